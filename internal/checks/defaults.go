package checks

import "context"

const (
	expectedHostname = "node1.example.com"
	expectedIPv4     = "192.168.122.10"
	adminGroup       = "sysadmin"
	sharedDir        = "/home/shared"
	repoFile         = "/etc/yum.repos.d/local.repo"
)

// DefaultRegistry returns a registry loaded with the built-in routines.
func DefaultRegistry() *Registry {
	r := NewRegistry(DefaultRoutine())
	for id, routine := range TaskRoutines() {
		r.Register(id, routine)
	}
	return r
}

// DefaultRoutine is a smoke test used for tasks without a dedicated routine.
func DefaultRoutine() Routine {
	return Routine{
		Name: "baseline",
		Checks: []Check{
			{Name: "Container reachable", Fn: func(context.Context, *Target) (bool, string) {
				return true, "Container is running"
			}},
			{Name: "Hostname", Fn: hostname(expectedHostname)},
			{Name: "Root home", Fn: pathExists("/root")},
		},
	}
}

// TaskRoutines returns the dedicated routine for each built-in task.
func TaskRoutines() map[int]Routine {
	return map[int]Routine{
		1: {
			Name: "network",
			Checks: []Check{
				{Name: "Hostname", Fn: hostname(expectedHostname)},
				{Name: "IP configuration", Fn: func(ctx context.Context, t *Target) (bool, string) {
					return t.IPv4Configured(ctx, expectedIPv4)
				}},
			},
		},
		2: {
			Name: "web-server",
			Checks: []Check{
				{Name: "httpd active", Fn: func(ctx context.Context, t *Target) (bool, string) {
					return t.ServiceActive(ctx, "httpd")
				}},
				{Name: "Port 80 listening", Fn: func(ctx context.Context, t *Target) (bool, string) {
					return t.ListeningPort(ctx, 80)
				}},
				{Name: "Index page", Fn: pathExists("/var/www/html/index.html")},
			},
		},
		3: {
			Name: "repository",
			Checks: []Check{
				{Name: "Repository file", Fn: pathExists(repoFile)},
				{Name: "baseurl", Fn: fileContains(repoFile, "baseurl=http://repo.example.com/BaseOS")},
				{Name: "gpgcheck", Fn: fileContains(repoFile, "gpgcheck=0")},
			},
		},
		4: {
			Name: "users-groups",
			Checks: []Check{
				{Name: "Group sysadmin", Fn: func(ctx context.Context, t *Target) (bool, string) {
					return t.GroupExists(ctx, adminGroup)
				}},
				{Name: "User alice", Fn: userExists("alice")},
				{Name: "User bob", Fn: userExists("bob")},
				{Name: "alice in sysadmin", Fn: userInGroup("alice", adminGroup)},
				{Name: "bob in sysadmin", Fn: userInGroup("bob", adminGroup)},
			},
		},
		5: {
			Name: "shared-directory",
			Checks: []Check{
				{Name: "Directory exists", Fn: pathExists(sharedDir)},
				{Name: "Group ownership", Fn: func(ctx context.Context, t *Target) (bool, string) {
					return t.GroupOwner(ctx, sharedDir, adminGroup)
				}},
				{Name: "setgid bit", Fn: func(ctx context.Context, t *Target) (bool, string) {
					return t.SetgidSet(ctx, sharedDir)
				}},
			},
		},
	}
}

func hostname(expected string) CheckFunc {
	return func(ctx context.Context, t *Target) (bool, string) { return t.Hostname(ctx, expected) }
}

func pathExists(path string) CheckFunc {
	return func(ctx context.Context, t *Target) (bool, string) { return t.PathExists(ctx, path) }
}

func fileContains(path, substring string) CheckFunc {
	return func(ctx context.Context, t *Target) (bool, string) { return t.FileContains(ctx, path, substring) }
}

func userExists(user string) CheckFunc {
	return func(ctx context.Context, t *Target) (bool, string) { return t.UserExists(ctx, user) }
}

func userInGroup(user, group string) CheckFunc {
	return func(ctx context.Context, t *Target) (bool, string) { return t.UserInGroup(ctx, user, group) }
}
