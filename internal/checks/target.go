package checks

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kandev/examlab/internal/probe"
)

// Target binds a prober to one instance. Every primitive is read-only.
type Target struct {
	Instance string
	prober   Prober
}

func NewTarget(instance string, p Prober) *Target {
	return &Target{Instance: instance, prober: p}
}

func (t *Target) run(ctx context.Context, argv ...string) probe.Result {
	return t.prober.Run(ctx, t.Instance, argv)
}

// Hostname passes when `hostname -f` equals expected exactly.
func (t *Target) Hostname(ctx context.Context, expected string) (bool, string) {
	res := t.run(ctx, "hostname", "-f")
	if !res.OK() {
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			return false, msg
		}
		return false, fmt.Sprintf("hostname failed (exit %d)", res.ExitCode)
	}
	got := strings.TrimSpace(res.Stdout)
	if got == expected {
		return true, fmt.Sprintf("Hostname is '%s'", got)
	}
	return false, fmt.Sprintf("Expected '%s', got '%s'", expected, got)
}

// PathExists passes for a regular file or a directory.
func (t *Target) PathExists(ctx context.Context, path string) (bool, string) {
	if t.run(ctx, "test", "-f", path).OK() {
		return true, fmt.Sprintf("File %s exists", path)
	}
	if t.run(ctx, "test", "-d", path).OK() {
		return true, fmt.Sprintf("Path %s exists (directory)", path)
	}
	return false, fmt.Sprintf("Path %s not found", path)
}

// FileContains passes when path contains substring literally.
func (t *Target) FileContains(ctx context.Context, path, substring string) (bool, string) {
	if t.run(ctx, "grep", "-qF", "--", substring, path).OK() {
		return true, fmt.Sprintf("'%s' found in %s", substring, path)
	}
	return false, fmt.Sprintf("'%s' not found in %s or file missing", substring, path)
}

func (t *Target) UserExists(ctx context.Context, user string) (bool, string) {
	if t.run(ctx, "id", "-u", user).OK() {
		return true, fmt.Sprintf("User '%s' exists", user)
	}
	return false, fmt.Sprintf("User '%s' not found", user)
}

func (t *Target) GroupExists(ctx context.Context, group string) (bool, string) {
	if t.run(ctx, "getent", "group", group).OK() {
		return true, fmt.Sprintf("Group '%s' exists", group)
	}
	return false, fmt.Sprintf("Group '%s' not found", group)
}

// UserInGroup passes when group is one of the names printed by `id -Gn user`.
func (t *Target) UserInGroup(ctx context.Context, user, group string) (bool, string) {
	res := t.run(ctx, "id", "-Gn", user)
	if res.OK() && containsToken(strings.Fields(res.Stdout), group) {
		return true, fmt.Sprintf("User %s is in group %s", user, group)
	}
	return false, fmt.Sprintf("User %s not in group %s", user, group)
}

func (t *Target) ServiceActive(ctx context.Context, service string) (bool, string) {
	if t.run(ctx, "systemctl", "is-active", "--quiet", service).OK() {
		return true, fmt.Sprintf("Service '%s' is active", service)
	}
	return false, fmt.Sprintf("Service '%s' is not active", service)
}

// ListeningPort looks for a TCP listener on port using ss, falling back to netstat.
func (t *Target) ListeningPort(ctx context.Context, port int) (bool, string) {
	res := t.run(ctx, "ss", "-tln")
	if !res.OK() {
		res = t.run(ctx, "netstat", "-tln")
	}
	if res.OK() && listensOn(res.Stdout, port) {
		return true, fmt.Sprintf("Port %d is listening", port)
	}
	return false, fmt.Sprintf("Port %d is not listening", port)
}

// GroupOwner passes when the group owning path is group.
func (t *Target) GroupOwner(ctx context.Context, path, group string) (bool, string) {
	res := t.run(ctx, "stat", "-c", "%G", path)
	if !res.OK() {
		return false, fmt.Sprintf("Cannot stat %s", path)
	}
	got := strings.TrimSpace(res.Stdout)
	if got == group {
		return true, fmt.Sprintf("Group owner is %s", group)
	}
	return false, fmt.Sprintf("Group owner is %s, expected %s", got, group)
}

// SetgidSet inspects the octal mode of path.
func (t *Target) SetgidSet(ctx context.Context, path string) (bool, string) {
	res := t.run(ctx, "stat", "-c", "%a", path)
	if !res.OK() {
		return false, fmt.Sprintf("Cannot stat %s", path)
	}
	return HasSetgid(strings.TrimSpace(res.Stdout))
}

// HasSetgid reports whether an octal mode string as printed by `stat -c %a` has the
// setgid or setuid bit, i.e. its special-bits digit is at least 2.
func HasSetgid(mode string) (bool, string) {
	v, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return false, fmt.Sprintf("Unrecognized mode '%s'", mode)
	}
	if v>>9 >= 2 {
		return true, fmt.Sprintf("setgid or setuid set (mode %s)", mode)
	}
	return false, fmt.Sprintf("setgid not set (mode %s)", mode)
}

// IPv4Configured passes when addr is assigned to any interface.
func (t *Target) IPv4Configured(ctx context.Context, addr string) (bool, string) {
	res := t.run(ctx, "ip", "-4", "addr", "show")
	if res.OK() {
		for _, tok := range strings.Fields(res.Stdout) {
			if tok == addr || strings.HasPrefix(tok, addr+"/") {
				return true, fmt.Sprintf("IP %s configured", addr)
			}
		}
	}
	return false, fmt.Sprintf("IP %s not found in interfaces", addr)
}

func containsToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}

// listensOn scans ss/netstat -tln output; the local address is the fourth column in both.
func listensOn(out string, port int) bool {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if strings.HasSuffix(fields[3], suffix) {
			return true
		}
	}
	return false
}
