package core

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprValidate(t *testing.T) {
	tests := []struct {
		name    string
		expr    Expr
		wantErr bool
	}{
		{"has any", HasAny("global_privileges", "SUPER"), false},
		{"nested", And(Or(IsMember("server_roles", "sysadmin")), Not(Equals("is_locked", "true"))), false},
		{"greater than", GreaterThan("object_privileges", 10), false},
		{"empty and", And(), true},
		{"not arity", Expr{Op: OpNot}, true},
		{"missing field", Expr{Op: OpHasAll, Values: []string{"x"}}, true},
		{"missing values", Expr{Op: OpHasAny, Field: "roles"}, true},
		{"greater than without number", Expr{Op: OpGreaterThan, Field: "roles"}, true},
		{"unknown op", Expr{Op: "xor"}, true},
		{"bad child", And(HasAny("roles")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.expr.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsCode(err, CodeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestExprJSON(t *testing.T) {
	raw := `{"op":"and","args":[{"op":"has_any","field":"role_attributes","values":["SUPERUSER"]},{"op":"greater_than","field":"member_of","number":2}]}`
	var e Expr
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	require.NoError(t, e.Validate())
	assert.Equal(t, []string{"role_attributes", "member_of"}, e.Fields())
	require.NotNil(t, e.Args[1].Number)
	assert.Equal(t, 2.0, *e.Args[1].Number)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "nightly_report", Slugify("  Nightly Report!! "))
	assert.Equal(t, "sync_accounts", Slugify("sync_accounts"))
	assert.Equal(t, "nightly_pg_export", Slugify("Nightly PG-Export!"))
	assert.Equal(t, "", Slugify("***"))
}
