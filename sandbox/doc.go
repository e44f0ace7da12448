// Package sandbox provides secure code execution capabilities.
//
// The sandbox package implements the execution engine for running untrusted
// code in isolated containers. A Provisioner creates one network-disabled,
// memory- and CPU-bounded container per execution and tears it down again.
// A Runner injects the source code and input document into the container,
// starts the language's launch command and captures bounded stdout/stderr,
// while a Guard races the process against its deadline, samples memory
// usage and classifies how the run ended.
//
// The container engine is reached through the Backend interface. DockerBackend
// implements it on the Docker Engine API and serves both the docker and the
// podman backends.
//
// Usage:
//
//	sb, err := provisioner.Provision(ctx, descriptor, 512)
//	if err != nil {
//	    return err
//	}
//	defer provisioner.Release(ctx, sb)
//	outcome := runner.Run(ctx, sb, sandbox.RunRequest{
//	    Code:    "print('Hello, World!')",
//	    Timeout: 10 * time.Second,
//	})
package sandbox
