package server

import "google.golang.org/grpc"

// Service is a unit of RPC functionality hosted by the listener. The manager
// never invokes a service itself. It stores the handle and presents it to the
// native listener each time one is built.
type Service interface {
	// Name identifies the service for logging
	Name() string
	// RegisterWith attaches the service to a listener under construction
	RegisterWith(grpc.ServiceRegistrar)
}

type funcService struct {
	name     string
	register func(grpc.ServiceRegistrar)
}

func (s *funcService) Name() string { return s.name }

func (s *funcService) RegisterWith(r grpc.ServiceRegistrar) {
	s.register(r)
}

// NewService adapts a registration function into a Service
func NewService(name string, register func(grpc.ServiceRegistrar)) Service {
	return &funcService{name: name, register: register}
}
