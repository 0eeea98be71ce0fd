// Package toolchain drives the PlatformIO command-line tool against device
// project directories.
//
// Every project command is preceded by an availability check (binary on PATH
// and a successful "--version"). A positive check is cached briefly; a
// failure is never cached, and a command that finds the binary gone resets
// the cache.
//
// Outcomes are classified by exit status only:
//
//	exit 0                 -> output (stdout then stderr), nil
//	exit != 0, no start    -> *CommandError{Kind: ErrCommandFailed}
//	deadline expired       -> *CommandError{Kind: ErrTimeout}
//	binary missing/broken  -> ErrToolchainUnavailable
//	mkdir/write failed     -> ErrFilesystem
//
// Commands run in their own process group under Config.CommandTimeout and are
// stopped with SIGTERM, then SIGKILL, when the deadline or the caller's
// context ends.
package toolchain
