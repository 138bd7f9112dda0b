package discovery

import (
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Service describes this instance to the Consul agent.
type Service struct {
	ID            string
	Name          string
	Address       string
	Port          int
	CheckInterval time.Duration
}

type Registrar struct {
	client *consulapi.Client
	logger *zap.Logger
}

func NewRegistrar(addr string, logger *zap.Logger) (*Registrar, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Registrar{client: client, logger: logger}, nil
}

// Register announces the service with an HTTP check against its /health route.
func (r *Registrar) Register(svc Service) error {
	interval := svc.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	reg := &consulapi.AgentServiceRegistration{
		ID:      svc.ID,
		Name:    svc.Name,
		Address: svc.Address,
		Port:    svc.Port,
		Tags:    []string{"chat", "ws"},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", svc.Address, svc.Port),
			Interval:                       interval.String(),
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := r.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("consul register %s: %w", svc.ID, err)
	}
	r.logger.Info("registered with consul", zap.String("service", svc.Name), zap.String("id", svc.ID))
	return nil
}

func (r *Registrar) Deregister(id string) error {
	if err := r.client.Agent().ServiceDeregister(id); err != nil {
		return fmt.Errorf("consul deregister %s: %w", id, err)
	}
	return nil
}
