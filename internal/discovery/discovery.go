package discovery

import (
	"context"
	"fmt"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type Registration struct {
	ServiceName string
	InstanceID  string
	Host        string
	Port        int
}

// Agent is the slice of the consul agent API used here.
type Agent interface {
	ServiceRegister(reg *consulapi.AgentServiceRegistration) error
	ServiceDeregister(serviceID string) error
}

// Registrar announces this instance so the gateway can route websocket traffic to it.
type Registrar struct {
	agent Agent
	reg   Registration
	log   *zap.SugaredLogger
}

func NewConsulRegistrar(addr string, reg Registration, log *zap.SugaredLogger) (*Registrar, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRegistrar(client.Agent(), reg, log), nil
}

func NewRegistrar(agent Agent, reg Registration, log *zap.SugaredLogger) *Registrar {
	return &Registrar{agent: agent, reg: reg, log: log}
}

func (r *Registrar) Register(_ context.Context) error {
	host := r.reg.Host
	if host == "" {
		host = "localhost"
	}
	check := &consulapi.AgentServiceCheck{
		HTTP:                           fmt.Sprintf("http://%s:%d/health", host, r.reg.Port),
		Interval:                       "10s",
		Timeout:                        "2s",
		DeregisterCriticalServiceAfter: "1m",
	}
	err := r.agent.ServiceRegister(&consulapi.AgentServiceRegistration{
		ID:      r.reg.InstanceID,
		Name:    r.reg.ServiceName,
		Address: host,
		Port:    r.reg.Port,
		Tags:    []string{"websocket", "chat"},
		Meta:    map[string]string{"port": strconv.Itoa(r.reg.Port)},
		Check:   check,
	})
	if err != nil {
		return fmt.Errorf("consul register: %w", err)
	}
	r.log.Infow("registered with consul", "service", r.reg.ServiceName, "instance_id", r.reg.InstanceID)
	return nil
}

func (r *Registrar) Deregister(_ context.Context) error {
	if err := r.agent.ServiceDeregister(r.reg.InstanceID); err != nil {
		return fmt.Errorf("consul deregister: %w", err)
	}
	r.log.Infow("deregistered from consul", "instance_id", r.reg.InstanceID)
	return nil
}
