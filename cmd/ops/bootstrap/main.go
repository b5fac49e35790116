// Command bootstrap seeds the SSM parameters a Hearth deployment reads at
// startup through its *_SSM_PARAM pointers.
//
// It verifies the caller identity with STS, then walks the secret inventory:
// prompting for vendor credentials, generating internal tokens, and hashing
// the admin password before anything is written. Existing parameters are
// never replaced without an explicit overwrite.
//
// Usage:
//
//	bootstrap --env staging [--profile hearth] [--region eu-west-1] [--export-env .env]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// Session is the verified AWS session the bootstrap runs under.
type Session struct {
	Environment string
	Profile     string
	Region      string
	AccountID   string
	CallerARN   string
	AWSConfig   aws.Config
	Logger      *slog.Logger
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

func main() {
	envFlag := flag.String("env", "", "target environment: dev, staging or prod")
	profileFlag := flag.String("profile", "", "AWS shared config profile")
	regionFlag := flag.String("region", "", "AWS region (defaults to the profile or AWS_REGION)")
	exportFlag := flag.String("export-env", "", "after seeding, write the decrypted values to this .env path")
	skipOptional := flag.Bool("skip-optional", false, "skip optional parameters without prompting")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "--env must be one of dev, staging, prod (got %q)\n", *envFlag)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	store := NewParameterStore(newSSMClient(sess.AWSConfig), sess.Environment, logger)
	runner := &Runner{
		Store:        store,
		Inventory:    BuildInventory(NewValidator()),
		Stdin:        os.Stdin,
		Stderr:       os.Stderr,
		SkipOptional: *skipOptional,
	}

	if sess.Environment == "prod" && !confirmProduction(runner, sess) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		return
	}
	printBanner(os.Stderr, sess)

	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if *exportFlag != "" {
		if err := ExportEnvFile(ctx, ExportConfig{
			Path:      *exportFlag,
			Store:     store,
			Inventory: runner.Inventory,
			Stderr:    os.Stderr,
		}); err != nil {
			logger.Error("exporting .env file failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("bootstrap completed", "env", sess.Environment, "account", sess.AccountID)
}

func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*Session, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	sess := &Session{Environment: env, Profile: profile, Region: cfg.Region, AWSConfig: cfg, Logger: logger}
	if err := verifyIdentity(ctx, sts.NewFromConfig(cfg), sess); err != nil {
		return nil, err
	}
	logger.Info("AWS identity verified", "account_id", sess.AccountID, "arn", sess.CallerARN, "region", sess.Region)
	return sess, nil
}

// verifyIdentity fails fast on unusable credentials before any prompt is shown.
func verifyIdentity(ctx context.Context, client stsAPI, sess *Session) error {
	idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := client.GetCallerIdentity(idCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("verifying AWS identity (profile=%q, region=%q): %w", sess.Profile, sess.Region, err)
	}
	sess.AccountID = aws.ToString(out.Account)
	sess.CallerARN = aws.ToString(out.Arn)
	return nil
}

func confirmProduction(r *Runner, sess *Session) bool {
	fmt.Fprintln(r.Stderr, "\n  WARNING: you are targeting PRODUCTION")
	fmt.Fprintf(r.Stderr, "  Account: %s\n  Region:  %s\n  ARN:     %s\n\n", sess.AccountID, sess.Region, sess.CallerARN)

	line, err := r.readInput("Type 'yes' to continue: ")
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func printBanner(out io.Writer, sess *Session) {
	fmt.Fprintln(out, "\n------------------------------------------------------------")
	fmt.Fprintln(out, "  Hearth Bootstrap")
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "  Environment:  %s\n", sess.Environment)
	fmt.Fprintf(out, "  AWS Account:  %s\n", sess.AccountID)
	fmt.Fprintf(out, "  AWS Region:   %s\n", sess.Region)
	fmt.Fprintf(out, "  Identity:     %s\n", sess.CallerARN)
	if sess.Profile != "" {
		fmt.Fprintf(out, "  Profile:      %s\n", sess.Profile)
	}
	fmt.Fprintf(out, "  SSM Prefix:   %s\n", ssmPrefix(sess.Environment))
	fmt.Fprintln(out, "------------------------------------------------------------")
}
