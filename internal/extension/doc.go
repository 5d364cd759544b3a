// Package extension registers connector types with the service.
//
// A connector type is described by a Descriptor: the type discriminator of
// its connector and device entities, the JSON:API resource types, an entity
// factory, a Hydrator for inbound attributes, a Schema for outbound
// attributes and a RuntimeFactory that builds a running connector.
//
// The API resolves hydrators and schemas through the Registry and main
// resolves the runtime of every stored connector the same way:
//
//	reg := extension.NewRegistry()
//	if err := reg.Register(extension.FBBus()); err != nil {
//	    return err
//	}
//	desc, err := reg.Lookup(c.Type)
//
// All Registry methods are safe for concurrent use.
package extension
