// Package router dispatches incoming messages to handlers keyed by MQTT
// topic filter, and derives the SUBSCRIBE and UNSUBSCRIBE lists from the
// registered routes.
package router

import (
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/coremqtt"
)

// Handler processes an MQTT message.
type Handler func(msg *coremqtt.Message)

type route struct {
	filter  string
	qos     coremqtt.QoS
	retain  *bool
	payload *regexp.Regexp
	handler Handler
}

func (rt *route) accepts(msg *coremqtt.Message) bool {
	if !coremqtt.TopicMatch(rt.filter, msg.Topic) {
		return false
	}
	if rt.retain != nil && *rt.retain != msg.Retain {
		return false
	}
	return rt.payload == nil || rt.payload.Match(msg.Payload)
}

// Option configures a route.
type Option func(*route)

// WithQoS sets the QoS requested when subscribing to the route's filter.
// The default is QoS 0.
func WithQoS(qos coremqtt.QoS) Option {
	return func(rt *route) { rt.qos = qos }
}

// OnlyRetained restricts the route to messages whose RETAIN flag equals retained.
func OnlyRetained(retained bool) Option {
	return func(rt *route) { rt.retain = &retained }
}

// MatchPayload restricts the route to payloads matching pattern.
func MatchPayload(pattern *regexp.Regexp) Option {
	return func(rt *route) { rt.payload = pattern }
}

// Router dispatches messages to every route whose filter matches the topic.
type Router struct {
	mu       sync.RWMutex
	routes   []*route
	fallback Handler
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers handler for messages matching filter. The filter is
// validated the same way Subscribe validates it.
//
//	r.Handle("sensors/+/temperature", onTemperature)
//	r.Handle("alerts/#", onAlert, router.WithQoS(coremqtt.QoS1))
func (r *Router) Handle(filter string, handler Handler, opts ...Option) error {
	if err := coremqtt.ValidateTopicFilter(filter); err != nil {
		return err
	}

	rt := &route{filter: filter, handler: handler}
	for _, opt := range opts {
		opt(rt)
	}

	r.mu.Lock()
	r.routes = append(r.routes, rt)
	r.mu.Unlock()

	return nil
}

// Fallback sets the handler for messages no route accepts. A broker may
// deliver such messages when an overlapping subscription was removed.
func (r *Router) Fallback(handler Handler) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

// Remove drops every route registered for filter and reports whether any
// existed.
func (r *Router) Remove(filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.routes)
	r.routes = slices.DeleteFunc(r.routes, func(rt *route) bool { return rt.filter == filter })

	return len(r.routes) != n
}

// Dispatch calls every route accepting msg, in registration order. It
// reports whether at least one route accepted the message; when none did
// the fallback handler, if any, is called instead.
func (r *Router) Dispatch(msg *coremqtt.Message) bool {
	if msg == nil {
		return false
	}

	r.mu.RLock()
	var handlers []Handler
	for _, rt := range r.routes {
		if rt.accepts(msg) {
			handlers = append(handlers, rt.handler)
		}
	}
	fallback := r.fallback
	r.mu.RUnlock()

	if len(handlers) == 0 {
		if fallback != nil {
			fallback(msg)
		}
		return false
	}

	for _, h := range handlers {
		h(msg)
	}

	return true
}

// Filters returns the distinct registered filters, sorted.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filters := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		filters = append(filters, rt.filter)
	}
	slices.Sort(filters)

	return slices.Compact(filters)
}

// Subscriptions returns one entry per distinct filter, sorted by filter.
// When several routes share a filter the highest requested QoS wins.
func (r *Router) Subscriptions() []coremqtt.SubscribeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	granted := make(map[string]coremqtt.QoS, len(r.routes))
	for _, rt := range r.routes {
		if qos, ok := granted[rt.filter]; !ok || rt.qos > qos {
			granted[rt.filter] = rt.qos
		}
	}

	subs := make([]coremqtt.SubscribeInfo, 0, len(granted))
	for filter, qos := range granted {
		subs = append(subs, coremqtt.SubscribeInfo{TopicFilter: filter, QoS: qos})
	}
	slices.SortFunc(subs, func(a, b coremqtt.SubscribeInfo) int {
		switch {
		case a.TopicFilter < b.TopicFilter:
			return -1
		case a.TopicFilter > b.TopicFilter:
			return 1
		}
		return 0
	})

	return subs
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// MessageHandler adapts the router for coremqtt.WithMessageHandler.
func (r *Router) MessageHandler() coremqtt.MessageHandler {
	return func(msg *coremqtt.Message) {
		r.Dispatch(msg)
	}
}
