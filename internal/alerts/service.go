package alerts

import "context"

type Service struct {
	infra Notifier
}

func NewService(infra Notifier) *Service {
	return &Service{infra: infra}
}

func (s *Service) Notify(ctx context.Context, subsystem string, err error, details string) error {
	return s.infra.Notify(ctx, subsystem, err, details)
}
