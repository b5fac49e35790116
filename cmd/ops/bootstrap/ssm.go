package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClient is the subset of the SSM API the bootstrap needs.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

const ssmOperationTimeout = 15 * time.Second

func newSSMClient(cfg aws.Config) SSMClient {
	return ssm.NewFromConfig(cfg)
}

// ssmPrefix is the per-environment namespace, e.g. /staging/hearth/.
func ssmPrefix(env string) string {
	return fmt.Sprintf("/%s/hearth/", env)
}

// ParameterStore reads and writes parameters under one environment prefix.
// Values are never logged; only paths and lengths are.
type ParameterStore struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

func NewParameterStore(client SSMClient, env string, logger *slog.Logger) *ParameterStore {
	return &ParameterStore{client: client, env: env, logger: logger}
}

// Path returns the absolute parameter name for key.
func (s *ParameterStore) Path(key string) string {
	return ssmPrefix(s.env) + key
}

// Exists probes for a parameter without decrypting it, so kms:Decrypt is
// not needed just to check.
func (s *ParameterStore) Exists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// Get returns the decrypted value. A missing parameter yields ("", false, nil).
func (s *ParameterStore) Get(ctx context.Context, path string) (string, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	out, err := s.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading SSM parameter %q: %w", path, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, fmt.Errorf("SSM parameter %q has no value", path)
	}
	return aws.ToString(out.Parameter.Value), true, nil
}

// Put writes a parameter. With overwrite false an existing parameter is an
// error rather than a silent replacement.
func (s *ParameterStore) Put(ctx context.Context, path, value string, paramType ssmtypes.ParameterType, overwrite bool) error {
	if path == "" {
		return errors.New("SSM parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	s.logger.Info("SSM parameter written",
		"path", path,
		"type", string(paramType),
		"value_length", len(value),
	)
	return nil
}
