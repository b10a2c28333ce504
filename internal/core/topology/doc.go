// Package topology loads the declarative dev and prod descriptors
// (docker-compose.yml and docker-stack.yml), checks the invariants stackctl
// relies on and renders the prod descriptor that is submitted to the swarm.
//
// This is part of the Functional Core - callers pass descriptor bytes in and
// get values or bytes back. Reading files and talking to the engine happens
// in internal/shell.
//
// # Functions
//
//   - Parse: descriptor bytes to a Topology (compose-go under the hood)
//   - ValidateDev / ValidateProd: health gating and required services
//   - StartOrder: dependency order of services (Kahn's algorithm)
//   - RenderStack: prod descriptor with image, replicas and update policy
package topology
