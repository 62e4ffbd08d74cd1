package grpcclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/waste-sort/internal/classifier"
	"github.com/example/waste-sort/internal/logging"
)

// ClassifyMethod is the unary method served by the inference process. The
// request is a google.protobuf.BytesValue holding the raw upload and the
// response a google.protobuf.StringValue holding the label name.
const ClassifyMethod = "/waste.Classifier/Classify"

// DialClassifier returns a ready-to-use gRPC client for the inference service.
func DialClassifier(addr string, logger *zap.Logger, opts ...grpc.DialOption) (classifier.Classifier, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcClassifier{conn: conn, logger: logger.Named("grpc_classifier")}, conn, nil
}

type grpcClassifier struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcClassifier) Classify(ctx context.Context, imageBytes []byte) (classifier.Prediction, error) {
	if len(imageBytes) == 0 {
		return classifier.Prediction{}, fmt.Errorf("%w: empty payload", classifier.ErrInvalidImage)
	}

	resp := &wrapperspb.StringValue{}
	if err := g.conn.Invoke(ctx, ClassifyMethod, wrapperspb.Bytes(imageBytes), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", "", translate(err))
		g.logger.Error("classifier call failed", zap.Error(wrapped))
		return classifier.Prediction{}, wrapped
	}

	label, ok := classifier.ParseLabel(resp.GetValue())
	if !ok {
		g.logger.Warn("classifier returned label outside the model set", zap.String("label", resp.GetValue()))
	}
	return classifier.Prediction{Label: label, Name: strings.TrimSpace(resp.GetValue())}, nil
}

func translate(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %v", classifier.ErrInvalidImage, err)
	case codes.Unavailable, codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", classifier.ErrModelUnavailable, err)
	default:
		return err
	}
}
