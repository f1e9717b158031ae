package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func TestCheckEnvVar(t *testing.T) {
	tests := []struct {
		name      string
		pc        *PermissionContext
		envVar    string
		wantError bool
	}{
		{
			name:      "dangerous var always blocked",
			pc:        &PermissionContext{Spec: execreq.PermissionSpec{Environment: execreq.EnvironmentPermission{Allow: []string{"*"}}}},
			envVar:    "LD_PRELOAD",
			wantError: true,
		},
		{
			name:      "exact match allowed",
			pc:        &PermissionContext{Spec: execreq.PermissionSpec{Environment: execreq.EnvironmentPermission{Allow: []string{"PATH"}}}},
			envVar:    "PATH",
			wantError: false,
		},
		{
			name:      "prefix wildcard allowed",
			pc:        &PermissionContext{Spec: execreq.PermissionSpec{Environment: execreq.EnvironmentPermission{Allow: []string{"KB_*"}}}},
			envVar:    "KB_PLUGIN_ID",
			wantError: false,
		},
		{
			name:      "not in allow list denied",
			pc:        &PermissionContext{Spec: execreq.PermissionSpec{Environment: execreq.EnvironmentPermission{Allow: []string{"PATH"}}}},
			envVar:    "AWS_SECRET_ACCESS_KEY",
			wantError: true,
		},
		{
			name:      "nil context denies",
			pc:        nil,
			envVar:    "PATH",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckEnvVar(tt.pc, tt.envVar)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
