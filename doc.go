// Package eryx embeds a Python interpreter compiled to a WebAssembly
// component and runs untrusted code against it inside a host process,
// with no container, VM, or subprocess boundary.
//
// A Builder resolves a precompiled, optionally pre-initialized
// component (linking native extensions and running an import script
// when requested) through a content-addressed Component Cache, and
// compiles the result into a Template. From a Template, callers spawn
// either a Sandbox — one fresh, stateless guest instance per Execute
// call — or a Session — one long-lived instance whose Python globals
// persist across calls until ClearState or Reset.
//
// Every execution is bounded by a ResourceLimits budget (wall-clock
// timeout, fuel, memory, callback count), optionally allowed to make
// outbound network connections through a host-mediated NetworkPolicy,
// and optionally exposed to named host callbacks via Callbacks. Guest
// line-trace events and stdout/stderr are always captured on the
// returned ExecuteResult and optionally streamed live through
// ExecuteOptions.OnTrace/OnOutput.
package eryx
