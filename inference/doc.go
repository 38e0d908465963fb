// Package inference is the single boundary between the simulation and
// external reasoning backends.
//
// Providers are looked up by id in a table built once at configuration time.
// A provider is either a Descriptor executed over HTTP (endpoint, auth header,
// request adapter, response adapter) or one of the SDK backed adapters in the
// openai and anthropic subpackages. The Gateway owns the call policy:
//
//   - every call runs under a deadline; a call that misses it is abandoned and
//     its late result discarded (ErrTimeout)
//   - network and HTTP failures are retried with exponential backoff up to
//     MaxRetries (ErrTransport)
//   - a response that cannot be interpreted is surfaced immediately
//     (ErrParse)
//   - an id missing from the table fails fast (ErrUnknownProvider)
//
// The Gateway has no side effects on agents or memories.
package inference
