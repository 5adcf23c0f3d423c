package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Signer applies SigV4 signatures for upstreams fronted by AWS IAM auth.
// Credentials come from the default AWS chain (env, shared config, IMDS).
type Signer struct {
	cfg     aws.Config
	signer  *v4.Signer
	region  string
	service string
	ok      bool
}

// NewSigner loads AWS credentials for region/service. A signer whose
// credential load failed reports IsConfigured false and is skipped.
func NewSigner(ctx context.Context, region, service string) *Signer {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return &Signer{}
	}
	return &Signer{
		cfg:     cfg,
		signer:  v4.NewSigner(),
		region:  region,
		service: service,
		ok:      true,
	}
}

// IsConfigured reports whether signing is possible.
func (s *Signer) IsConfigured() bool {
	return s != nil && s.ok
}

// SignRequest signs req in place. body must be the exact request payload.
func (s *Signer) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := s.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(body)
	return s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(hash[:]), s.service, s.region, time.Now())
}
