// Package toolchain wraps the external programs a build relies on: the Elm
// compiler, a minifier for the optimize stage, and a shell bridge for
// commands such as test runners.
package toolchain
