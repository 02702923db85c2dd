package pty

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// knownShells are argv[0] basenames that can be exec'd directly:
// they already know how to interpret a `-c` script or an interactive
// session on their own, so no wrapping is needed (spec §4.3 rule 2).
var knownShells = map[string]bool{
	"bash": true,
	"sh":   true,
	"zsh":  true,
	"dash": true,
	"ksh":  true,
	"fish": true,
	"tcsh": true,
	"csh":  true,
}

// shellBuiltins are commands that only exist inside a running shell
// (spec §4.3 rule 3): they have no standalone executable on $PATH, so
// they must be wrapped as `shell -c "..."` rather than exec'd directly.
var shellBuiltins = map[string]bool{
	"cd":     true,
	"echo":   true,
	"export": true,
	"alias":  true,
	"source": true,
	".":      true,
	"exit":   true,
	"[":      true,
	"[[":     true,
	"test":   true,
	"type":   true,
	"jobs":   true,
	"kill":   true,
}

// resolveCommand applies spec §4.3's rules 2-4 to command, returning
// the argv to actually exec:
//
//  1. a known shell's basename is exec'd as given;
//  2. a shebang-scripted file is exec'd as given (the kernel handles
//     the interpreter);
//  3. a shell builtin is wrapped as `shell -c "command joined"`;
//  4. anything else is wrapped as a login, (for bash/sh) interactive
//     shell invocation, so aliases, functions, and globs the user's rc
//     files define are available to it, matching the VibeTunnel port's
//     treatment of arbitrary commands.
func resolveCommand(command []string) []string {
	if len(command) == 0 {
		return ResolveShell()
	}

	name := filepath.Base(command[0])
	if knownShells[name] {
		return command
	}
	if hasShebang(command[0]) {
		return command
	}

	shell := ResolveShell()
	script := quoteArgv(command)
	if shellBuiltins[name] {
		return append(append([]string{}, shell...), "-c", script)
	}

	shellName := filepath.Base(shell[0])
	if shellName == "zsh" {
		return append(append([]string{}, shell...), "-l", "-c", script)
	}
	return append(append([]string{}, shell...), "-i", "-l", "-c", script)
}

// hasShebang reports whether path names a readable file starting with
// "#!", i.e. a script the kernel already knows how to interpret
// directly. The file's executable bit is not checked.
func hasShebang(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	r := bufio.NewReader(f)
	line, _ := r.ReadString('\n')
	return strings.HasPrefix(line, "#!")
}

// quoteArgv joins argv into a single POSIX-shell-safe string suitable
// for a `-c` argument, single-quoting each element and escaping any
// embedded single quotes the standard `'\''` way.
func quoteArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quoteShellWord(a)
	}
	return strings.Join(parts, " ")
}

func quoteShellWord(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"$`\\!*?[]{}()<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
