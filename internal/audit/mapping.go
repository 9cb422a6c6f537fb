package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseRoute returns action and resource for an HTTP method and route pattern
// (e.g. POST /v1/admin/transfers/:id/approve → approve transfer).
// Resource is the singular of the first collection segment after the version and optional "admin" prefix.
// Action is the trailing verb segment when present, otherwise derived from the method.
func ParseRoute(method, route string) ActionResource {
	segs := strings.FieldsFunc(route, func(r rune) bool { return r == '/' })
	if len(segs) > 0 && isVersion(segs[0]) {
		segs = segs[1:]
	}
	if len(segs) > 0 && segs[0] == "admin" {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := singular(segs[0])
	last := segs[len(segs)-1]
	if len(segs) > 1 && !strings.HasPrefix(last, ":") {
		// nested collection: /accounts/:id/deposits → create deposit
		if len(segs) == 3 && strings.HasPrefix(segs[1], ":") && isCollection(last) {
			return ActionResource{Action: methodToAction(method, false), Resource: singular(last)}
		}
		action := strings.ReplaceAll(last, "-", "_")
		if m := strings.ToUpper(method); m == "PUT" || m == "PATCH" {
			action = "update_" + action
		}
		return ActionResource{Action: action, Resource: resource}
	}
	return ActionResource{Action: methodToAction(method, len(segs) == 1), Resource: resource}
}

func isVersion(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isCollection(seg string) bool {
	return strings.HasSuffix(seg, "s")
}

func singular(seg string) string {
	if strings.HasSuffix(seg, "ies") {
		return strings.TrimSuffix(seg, "ies") + "y"
	}
	return strings.TrimSuffix(seg, "s")
}

func methodToAction(method string, collection bool) string {
	switch strings.ToUpper(method) {
	case "GET":
		if collection {
			return "list"
		}
		return "get"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
