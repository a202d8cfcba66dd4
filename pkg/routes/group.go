package routes

import "net/http"

// Group organizes routes under a common prefix. Middleware declared on a group
// wraps every route in the group and its children, outermost first.
type Group struct {
	Prefix     string
	Middleware []func(http.Handler) http.Handler
	Routes     []Route
	Children   []Group
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	for _, group := range groups {
		registerGroup(mux, "", nil, group)
	}
}

func registerGroup(mux *http.ServeMux, parentPrefix string, parentMw []func(http.Handler) http.Handler, group Group) {
	fullPrefix := parentPrefix + group.Prefix
	stack := append(append([]func(http.Handler) http.Handler{}, parentMw...), group.Middleware...)

	for _, route := range group.Routes {
		pattern := route.Method + " " + fullPrefix + route.Pattern
		mux.Handle(pattern, wrap(route.Handler, stack))
	}
	for _, child := range group.Children {
		registerGroup(mux, fullPrefix, stack, child)
	}
}

func wrap(h http.Handler, stack []func(http.Handler) http.Handler) http.Handler {
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}
