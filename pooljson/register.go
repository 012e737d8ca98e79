package pooljson

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	// These fields are used to map the registered types to method names.
	// A method may have several types; they are tried in registration
	// order when a message is parsed.
	registerLock          sync.RWMutex
	methodToConcreteTypes = make(map[string][]reflect.Type)
	concreteTypeToMethod  = make(map[reflect.Type]string)
)

// Register registers a new message type that will automatically marshal to
// and from JSON objects tagged with method.  msg must be a pointer to a
// struct, for example (*FooMsg)(nil).
//
// All messages of the pool protocol are registered by default.
func Register(method string, msg interface{}) error {
	registerLock.Lock()
	defer registerLock.Unlock()

	rtp := reflect.TypeOf(msg)
	if rtp == nil || rtp.Kind() != reflect.Ptr {
		str := fmt.Sprintf("type must be *struct not '%s (%v)'", rtp,
			kindOf(rtp))
		return makeError(ErrInvalidType, str)
	}
	rt := rtp.Elem()
	if rt.Kind() != reflect.Struct {
		str := fmt.Sprintf("type must be *struct not '%s (*%s)'",
			rtp, rt.Kind())
		return makeError(ErrInvalidType, str)
	}

	if existing, ok := concreteTypeToMethod[rtp]; ok {
		str := fmt.Sprintf("type %s is already registered as %q", rtp,
			existing)
		return makeError(ErrDuplicateMethod, str)
	}

	methodToConcreteTypes[method] = append(methodToConcreteTypes[method], rtp)
	concreteTypeToMethod[rtp] = method
	return nil
}

// MustRegister performs the same function as Register except it panics if
// there is an error.  This should only be called from package init
// functions.
func MustRegister(method string, msg interface{}) {
	if err := Register(method, msg); err != nil {
		panic(fmt.Sprintf("failed to register type %q: %v\n", method,
			err))
	}
}

// RegisteredMethods returns a sorted list of methods for all registered
// messages.
func RegisteredMethods() []string {
	registerLock.RLock()
	defer registerLock.RUnlock()

	methods := make([]string, 0, len(methodToConcreteTypes))
	for k := range methodToConcreteTypes {
		methods = append(methods, k)
	}
	sort.Strings(methods)
	return methods
}

// MsgMethod returns the method for the passed message.  The provided message
// type must be a registered type.
func MsgMethod(msg interface{}) (string, error) {
	rt := reflect.TypeOf(msg)
	registerLock.RLock()
	method, ok := concreteTypeToMethod[rt]
	registerLock.RUnlock()
	if !ok {
		str := fmt.Sprintf("%v is not registered", rt)
		return "", makeError(ErrUnregisteredMethod, str)
	}
	return method, nil
}

func kindOf(rt reflect.Type) reflect.Kind {
	if rt == nil {
		return reflect.Invalid
	}
	return rt.Kind()
}
