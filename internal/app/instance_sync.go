package app

import (
	"context"
	"fmt"

	"outreach_engine/internal/domain/gateway"
	"outreach_engine/internal/domain/instance"

	"github.com/sirupsen/logrus"
)

// InstanceSyncService mirrors gateway connection states into the instances table.
type InstanceSyncService struct {
	instances instance.Repository
	gateway   gateway.Client
	logger    *logrus.Entry
}

func NewInstanceSyncService(ir instance.Repository, gc gateway.Client, logger *logrus.Entry) *InstanceSyncService {
	return &InstanceSyncService{instances: ir, gateway: gc, logger: logger.WithField("component", "instance_sync")}
}

func (s *InstanceSyncService) RunCycle(ctx context.Context) error {
	list, err := s.instances.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	for _, inst := range list {
		state, err := s.gateway.ConnectionState(ctx, inst.Name)
		if err != nil {
			s.logger.WithError(err).WithField("instance", inst.Name).Warn("Failed to read connection state")
			continue
		}
		status := instance.StatusDisconnected
		if state == gateway.StateOpen {
			status = instance.StatusConnected
		}
		if status == inst.Status {
			continue
		}
		if err := s.instances.UpdateStatus(ctx, inst.ID, status); err != nil {
			s.logger.WithError(err).WithField("instance", inst.Name).Error("Failed to update instance status")
			continue
		}
		s.logger.WithFields(logrus.Fields{"instance": inst.Name, "status": status}).Info("Instance status changed")
	}
	return nil
}
