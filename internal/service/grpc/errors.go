package grpcsvc

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodoms/internal/service/view"
)

// ErrorDomain — домен в ErrorInfo деталях ошибок.
const ErrorDomain = "foodoms"

// toStatus переводит доменную ошибку в gRPC-статус. Неожиданные ошибки логируются
// и отдаются клиенту без подробностей.
func (s *Server) toStatus(err error, operation string) error {
	code, reason := classify(err)
	if code == codes.Internal {
		s.logger.WithError(err).WithField("operation", operation).Error("request failed")
		return status.Error(codes.Internal, "internal error")
	}

	st := status.New(code, err.Error())
	if reason == "" {
		return st.Err()
	}
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain})
	if detailErr != nil {
		s.logger.WithError(detailErr).WithField("operation", operation).Warn("failed to attach error details")
		return st.Err()
	}
	s.logger.WithFields(log.Fields{"operation": operation, "code": code.String()}).Debug(err.Error())
	return detailed.Err()
}

func classify(err error) (codes.Code, string) {
	reason := view.ErrorReason(err)
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return codes.AlreadyExists, reason
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return codes.Aborted, "REQUEST_IN_PROGRESS"
	case domain.IsNotFound(err):
		return codes.NotFound, reason
	case view.IsValidation(err):
		return codes.InvalidArgument, reason
	case domain.IsInvalidState(err):
		return codes.FailedPrecondition, reason
	case domain.IsVersionConflict(err):
		return codes.Aborted, reason
	default:
		return codes.Internal, ""
	}
}

// ReasonFromError извлекает причину из ErrorInfo деталей статуса.
func ReasonFromError(err error) string {
	if err == nil {
		return ""
	}
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info.GetReason()
		}
	}
	return ""
}
