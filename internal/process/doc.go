// Package process runs external commands to completion with bounded lifetimes.
//
// It is the subprocess layer under the firmware toolchain: every command runs
// in its own process group, its stdout and stderr are captured separately,
// and when the caller's context ends the group is stopped with SIGTERM
// followed by SIGKILL.
//
// Example usage:
//
//	runner := process.NewRunner()
//	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
//	defer cancel()
//
//	res, err := runner.Run(ctx, process.Spec{
//	    Name:    "build",
//	    Binary:  "platformio",
//	    Args:    []string{"run"},
//	    WorkDir: "/srv/lab/bench-1",
//	})
//	fmt.Print(res.CombinedOutput())
package process
