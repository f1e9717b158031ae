package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func TestCheckRead(t *testing.T) {
	tests := []struct {
		name      string
		pc        *PermissionContext
		path      string
		wantError bool
	}{
		{
			name:      "nil context denies",
			pc:        nil,
			path:      "src/main.go",
			wantError: true,
		},
		{
			name: "no allow patterns denies",
			pc: &PermissionContext{Spec: execreq.PermissionSpec{
				Filesystem: execreq.FilesystemPermission{Mode: execreq.FSRead},
			}},
			path:      "src/main.go",
			wantError: true,
		},
		{
			name: "matching allow pattern grants",
			pc: &PermissionContext{Spec: execreq.PermissionSpec{
				Filesystem: execreq.FilesystemPermission{Mode: execreq.FSRead, Allow: []string{"src/**"}},
			}},
			path:      "src/main.go",
			wantError: false,
		},
		{
			name: "deny pattern wins over allow",
			pc: &PermissionContext{Spec: execreq.PermissionSpec{
				Filesystem: execreq.FilesystemPermission{Mode: execreq.FSRead, Allow: []string{"**/*"}, Deny: []string{"**/*.secret"}},
			}},
			path:      "config.secret",
			wantError: true,
		},
		{
			name: "path traversal denied even when allow matches",
			pc: &PermissionContext{Spec: execreq.PermissionSpec{
				Filesystem: execreq.FilesystemPermission{Mode: execreq.FSRead, Allow: []string{"**/*"}},
			}},
			path:      "../../etc/passwd",
			wantError: true,
		},
		{
			name: "write mode not requested for read is fine",
			pc: &PermissionContext{Spec: execreq.PermissionSpec{
				Filesystem: execreq.FilesystemPermission{Mode: execreq.FSWrite, Allow: []string{"**/*"}},
			}},
			path:      "src/main.go",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRead(tt.pc, tt.path)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckWrite(t *testing.T) {
	readOnly := &PermissionContext{Spec: execreq.PermissionSpec{
		Filesystem: execreq.FilesystemPermission{Mode: execreq.FSRead, Allow: []string{"**/*"}},
	}}
	err := CheckWrite(readOnly, "out.txt")
	assert.Error(t, err, "read-only grant must not satisfy a write check")

	readWrite := &PermissionContext{Spec: execreq.PermissionSpec{
		Filesystem: execreq.FilesystemPermission{Mode: execreq.FSWrite, Allow: []string{"out/**"}},
	}}
	assert.NoError(t, CheckWrite(readWrite, "out/result.json"))
}
