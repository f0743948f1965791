package main

// Logger is the minimal logging contract used throughout the module.
type Logger interface {
	Log(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Log(string, ...any) {}

// prefixLogger prepends a fixed tag to every record.
type prefixLogger struct {
	prefix string
	base   Logger
}

func (p *prefixLogger) Log(format string, args ...any) {
	p.base.Log("["+p.prefix+"] "+format, args...)
}
