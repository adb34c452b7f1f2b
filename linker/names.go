package linker

import "strings"

// FuncKind classifies an import name.
type FuncKind uint8

const (
	KindFreestanding FuncKind = iota
	KindConstructor
	KindMethod
	KindStatic
	KindResourceDrop
)

const (
	prefixConstructor  = "[constructor]"
	prefixMethod       = "[method]"
	prefixStatic       = "[static]"
	prefixResourceDrop = "[resource-drop]"
)

func (k FuncKind) String() string {
	switch k {
	case KindConstructor:
		return "constructor"
	case KindMethod:
		return "method"
	case KindStatic:
		return "static"
	case KindResourceDrop:
		return "resource-drop"
	}
	return "func"
}

// ConstructorName returns "[constructor]res".
func ConstructorName(res string) string { return prefixConstructor + res }

// MethodName returns "[method]res.name".
func MethodName(res, name string) string { return prefixMethod + res + "." + name }

// StaticName returns "[static]res.name".
func StaticName(res, name string) string { return prefixStatic + res + "." + name }

// DropName returns "[resource-drop]res".
func DropName(res string) string { return prefixResourceDrop + res }

// ParseName splits an import name into its kind, resource and function.
//   - "[method]pollable.ready" -> KindMethod, "pollable", "ready"
//   - "[constructor]fields"    -> KindConstructor, "fields", ""
//   - "poll"                   -> KindFreestanding, "", "poll"
func ParseName(name string) (FuncKind, string, string) {
	switch {
	case strings.HasPrefix(name, prefixConstructor):
		return KindConstructor, name[len(prefixConstructor):], ""
	case strings.HasPrefix(name, prefixResourceDrop):
		return KindResourceDrop, name[len(prefixResourceDrop):], ""
	case strings.HasPrefix(name, prefixMethod):
		res, fn, _ := strings.Cut(name[len(prefixMethod):], ".")
		return KindMethod, res, fn
	case strings.HasPrefix(name, prefixStatic):
		res, fn, _ := strings.Cut(name[len(prefixStatic):], ".")
		return KindStatic, res, fn
	}
	return KindFreestanding, "", name
}
