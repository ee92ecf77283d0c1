// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

// S3Target describes the store an S3 client talks to. The zero value is
// AWS S3 in the default region with ambient credentials.
type S3Target struct {
	Region   string
	RoleARN  string
	Endpoint string

	PathStyle   bool
	InsecureTLS bool
	// GCPInterop adapts request signing and checksums to the GCS XML API.
	GCPInterop bool
}

// apply adjusts the shared config for this target.
func (t S3Target) apply(cfg *aws.Config) {
	if t.InsecureTLS {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		cfg.HTTPClient = &http.Client{Transport: tr}
	}
	if t.GCPInterop {
		cfg.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		// GCS may serve gzip objects decoded, so stored checksums would not match
		cfg.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}
}

func (t S3Target) clientOptions(o *s3.Options) {
	if t.Endpoint != "" {
		o.BaseEndpoint = aws.String(t.Endpoint)
	}
	o.UsePathStyle = t.PathStyle
	if t.GCPInterop {
		o.APIOptions = append(o.APIOptions, hideAcceptEncoding)
	}
}

// GetS3 builds an S3 client. Credentials are cached per region and role.
func (m *Manager) GetS3(_ context.Context, target S3Target) (*S3Client, error) {
	cfg := m.configFor(target.Region, target.RoleARN)
	target.apply(&cfg)
	return &S3Client{Client: s3.NewFromConfig(cfg, target.clientOptions), Tracer: m.tracer}, nil
}

// The GCS XML API rejects signatures that cover Accept-Encoding, so the
// header is lifted off the request while signing and put back after.

const acceptEncoding = "Accept-Encoding"

type savedAcceptEncoding struct{}

func finalizeRequest(name string, fn func(ctx context.Context, req *smithyhttp.Request) context.Context) middleware.FinalizeMiddleware {
	return middleware.FinalizeMiddlewareFunc(name,
		func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
			req, ok := in.Request.(*smithyhttp.Request)
			if !ok {
				return middleware.FinalizeOutput{}, middleware.Metadata{},
					&v4.SigningError{Err: fmt.Errorf("unexpected request middleware type %T", in.Request)}
			}
			return next.HandleFinalize(fn(ctx, req), in)
		})
}

var (
	liftAcceptEncoding = finalizeRequest("LiftAcceptEncoding", func(ctx context.Context, req *smithyhttp.Request) context.Context {
		ctx = middleware.WithStackValue(ctx, savedAcceptEncoding{}, req.Header.Get(acceptEncoding))
		req.Header.Del(acceptEncoding)
		return ctx
	})
	restoreAcceptEncoding = finalizeRequest("RestoreAcceptEncoding", func(ctx context.Context, req *smithyhttp.Request) context.Context {
		if v, _ := middleware.GetStackValue(ctx, savedAcceptEncoding{}).(string); v != "" {
			req.Header.Set(acceptEncoding, v)
		}
		return ctx
	})
)

func hideAcceptEncoding(stack *middleware.Stack) error {
	if err := stack.Finalize.Insert(liftAcceptEncoding, "Signing", middleware.Before); err != nil {
		return err
	}
	return stack.Finalize.Insert(restoreAcceptEncoding, "Signing", middleware.After)
}
