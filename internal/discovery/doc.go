// Package discovery finds Acond controllers on the local network with mDNS.
//
// The controller's web server advertises itself as an "_http._tcp" service.
// A scan browses for these services until its timeout and keeps those whose
// instance or host name matches DefaultPattern (or a configured pattern):
//
//	scanner, err := discovery.NewScannerWithPattern(5*time.Second, "")
//	if err != nil {
//		return err
//	}
//	devices, err := scanner.Scan(ctx)
//	if err != nil {
//		return err
//	}
//	discovery.ProbeAll(ctx, devices, 10*time.Second)
//
// Probing requests the controller's login page without credentials. A
// device that answers is marked Reachable.
//
// mDNS needs multicast on the interface and UDP port 5353 open. Controllers
// on another network segment are not found; configure their address instead.
package discovery
