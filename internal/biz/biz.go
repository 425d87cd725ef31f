// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCircuitBreakerUseCase,
	NewHealthUseCase,
	NewRouterUseCase,
	NewSLAUseCase,
	NewRemediationUseCase,
	NewFailoverUseCase,
	NewAnomalyUseCase,
	// Bind cross-usecase collaborations to their concrete implementations
	wire.Bind(new(FailureRecorder), new(*CircuitBreakerUseCase)),
	wire.Bind(new(ConnectorPauser), new(*CircuitBreakerUseCase)),
	wire.Bind(new(RemediationRunner), new(*RemediationUseCase)),
	wire.Bind(new(RerouteRequester), new(*FailoverUseCase)),
	wire.Bind(new(FailoverProposer), new(*FailoverUseCase)),
)
