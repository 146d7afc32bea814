// Package logx is tailwatch's zerolog wrapper.
//
// Console lines carry a short timestamp and caller, the optional log file
// is JSON, and warnings and above can be mirrored to a Discord channel
// subject to a minimum level and a per-second rate limit.
package logx
