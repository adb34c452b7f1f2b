package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	assert.Equal(t, "[constructor]fields", ConstructorName("fields"))
	assert.Equal(t, "[method]pollable.ready", MethodName("pollable", "ready"))
	assert.Equal(t, "[static]descriptor.open-at", StaticName("descriptor", "open-at"))
	assert.Equal(t, "[resource-drop]fields", DropName("fields"))
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name     string
		kind     FuncKind
		resource string
		function string
	}{
		{"[constructor]fields", KindConstructor, "fields", ""},
		{"[method]pollable.ready", KindMethod, "pollable", "ready"},
		{"[static]outgoing-response.new", KindStatic, "outgoing-response", "new"},
		{"[resource-drop]tcp-socket", KindResourceDrop, "tcp-socket", ""},
		{"poll", KindFreestanding, "", "poll"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, res, fn := ParseName(tt.name)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.resource, res)
			assert.Equal(t, tt.function, fn)
		})
	}
	assert.Equal(t, "method", KindMethod.String())
	assert.Equal(t, "func", KindFreestanding.String())
}
