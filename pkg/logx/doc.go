// Package logx is syncd's structured logging layer over zerolog.
//
// Console output is human-readable with a short file:line caller, the file
// sink is JSON, and a Service lets config reloads swap level and sinks while
// every Logger derived from it follows along.
package logx
