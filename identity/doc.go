// Package identity maintains the node's ephemeral public identifier.
//
// Nodes advertise a short random identifier instead of a stable address. The
// [Rotator] generates one synchronously at construction, so [Rotator.Current]
// never returns an empty value, and replaces it on a fixed interval (15
// minutes by default) once [Rotator.Start] is called. Subscribers registered
// with [Rotator.OnRotate] are told about every change so the transport layer
// can re-advertise.
//
//	rot, err := identity.NewRotator(identity.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	rot.OnRotate(func(prev, next []byte) { advertiser.Update(next) })
//	rot.Start()
//	defer rot.Stop()
package identity
