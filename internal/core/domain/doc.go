// Package domain holds the values stackctl reasons about: environments,
// image references, the prod stack state machine and backup artifact names.
//
// This is part of the Functional Core - no I/O, no engine calls. The shell
// packages observe the engine, translate what they see into these values and
// ask the core whether an operation is allowed.
package domain
