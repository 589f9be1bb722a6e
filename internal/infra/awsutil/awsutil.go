// Package awsutil holds the AWS configuration and error mapping shared by the
// DynamoDB, SES and S3 adapters.
package awsutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/rest"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// Load resolves credentials from the default chain for region.
func Load(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		region = DefaultRegion
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

var codes = map[string]error{
	"AccessDenied":                           domain.ErrAuth,
	"AccessDeniedException":                  domain.ErrAuth,
	"UnrecognizedClientException":            domain.ErrAuth,
	"InvalidClientTokenId":                   domain.ErrAuth,
	"InvalidSignatureException":              domain.ErrAuth,
	"SignatureDoesNotMatch":                  domain.ErrAuth,
	"ExpiredToken":                           domain.ErrAuth,
	"ExpiredTokenException":                  domain.ErrAuth,
	"NoSuchKey":                              domain.ErrNotFound,
	"NotFound":                               domain.ErrNotFound,
	"ThrottlingException":                    domain.ErrUnavailable,
	"Throttling":                             domain.ErrUnavailable,
	"ProvisionedThroughputExceededException": domain.ErrUnavailable,
	"RequestLimitExceeded":                   domain.ErrUnavailable,
	"TooManyRequestsException":               domain.ErrUnavailable,
	"LimitExceededException":                 domain.ErrUnavailable,
	"InternalServerError":                    domain.ErrUnavailable,
	"InternalFailure":                        domain.ErrUnavailable,
	"ServiceUnavailable":                     domain.ErrUnavailable,
	"MessageRejected":                        domain.ErrRejected,
	"MailFromDomainNotVerifiedException":     domain.ErrRejected,
	"BadRequestException":                    domain.ErrRejected,
	"ValidationException":                    domain.ErrRejected,
}

// Classify wraps an SDK error with the matching domain sentinel. API error
// codes take precedence over the HTTP status; transport failures are
// unavailable.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel, ok := codes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %w", sentinel, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("%w: %w", rest.Classify(respErr.HTTPStatusCode()), err)
	}

	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}
