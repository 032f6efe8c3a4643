// Package device provides an HTTP client for the web interface of an Acond
// heat-pump controller.
//
// The controller has no API. Its web interface serves XML-ish pages whose
// INPUT elements carry the register values, and it accepts writes as form
// posts to the same pages. Access is guarded by a cookie session established
// through a login form.
//
// # Request Cycle
//
// Every page request follows the same cycle:
//
//	request ──200──▶ done
//	   │
//	   └──302──▶ POST login ──302 to login page──▶ authentication error
//	                 │
//	                 └──anything else──▶ retry request once ──200──▶ done
//	                                                 │
//	                                                 └──302──▶ authentication error
//
// A 302 on a data page always means the session has expired. The retry is
// unconditional; a controller that redirects the retried request has not
// accepted the login. Redirects are never followed automatically.
//
// # Sessions
//
// By default each operation runs in a fresh cookie jar (DisposableSessions),
// so a login happens on every operation. PersistentSession keeps the jar
// between operations and only logs in when the controller expires it.
//
// # Usage Example
//
//	client := device.NewClient("192.168.1.50", "acond", password)
//
//	snap, err := client.FetchSnapshot(ctx)
//	if err != nil {
//	    fmt.Println(device.ShortMessage(err))
//	    fmt.Println(device.TroubleshootingHint(err))
//	    return
//	}
//	fmt.Print(snap.FormatDetailed())
//
//	// Raise the indoor setpoint
//	reg, _ := registers.Lookup("indoor_setpoint")
//	_, err = client.WriteValue(ctx, reg.WriteKey, reg.EncodeWrite(22.5))
//
// # Errors
//
// All operations return *Error with one of three types:
//   - ErrTypeAuthentication: login rejected, or HTTP 401/403
//   - ErrTypeCommunication: timeouts, connection failures, unexpected status
//   - ErrTypeUnknown: anything else, with the cause wrapped
//
// Use errors.Is with ErrAuthenticationFailed or ErrCommunicationFailed, or
// the IsAuthError and IsCommunicationError helpers.
//
// # Transport
//
// The controller serves HTTPS with a self-signed certificate and, on older
// firmware, only RSA key exchange cipher suites. NewTLSConfig disables
// certificate verification and re-enables those suites.
package device
