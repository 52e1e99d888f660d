// Command cga-engine hosts the governance subsystems behind one HTTP
// server: Golden Thread binding, CGA certificate issuance, token
// minting/verification with agent-to-agent trust-policy evaluation, and
// capability-decay enforcement for agent spawn requests.
//
// Startup loads config, brings up each collaborator in its own logged
// phase, fails fast on anything security-sensitive that didn't load, then
// serves until SIGINT/SIGTERM with a graceful HTTP shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aigos/cga-engine/pkg/capability"
	"github.com/aigos/cga-engine/pkg/certificate"
	"github.com/aigos/cga-engine/pkg/cgalevel"
	"github.com/aigos/cga-engine/pkg/config"
	"github.com/aigos/cga-engine/pkg/middleware"
	"github.com/aigos/cga-engine/pkg/policy"
	"github.com/aigos/cga-engine/pkg/server"
	"github.com/aigos/cga-engine/pkg/signing"
	"github.com/aigos/cga-engine/pkg/token"
	"github.com/aigos/cga-engine/pkg/trustpolicy"
	"github.com/aigos/cga-engine/pkg/verification"
)

// staticCA resolves the issuing CA identity for SILVER+ certificates from
// a fixed, config-supplied id/name pair. A real deployment with more than
// one CA would plug in a lookup over an operator-managed CA table instead;
// this engine mints under exactly one organizational CA.
type staticCA struct {
	id, name string
}

func (c staticCA) Resolve(level cgalevel.Level) (certificate.Issuer, error) {
	return certificate.Issuer{ID: c.id, Name: c.name}, nil
}

// loadTrustedCAs reads every "<kid>.pem" file in dir and returns a
// signing.StaticResolver keyed by kid, the shape the token verifier and
// trust evaluator both resolve certificate-issuer keys through.
func loadTrustedCAs(dir string) (signing.StaticResolver, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read trusted CA directory %q: %w", dir, err)
	}
	resolver := make(signing.StaticResolver)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		kid := strings.TrimSuffix(entry.Name(), ".pem")
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read CA key %q: %w", entry.Name(), err)
		}
		pub, err := signing.LoadPublicKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse CA key %q: %w", entry.Name(), err)
		}
		resolver[kid] = pub
	}
	return resolver, nil
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting cga-engine")

	var showHelp = flag.Bool("help", false, "show this help message")
	flag.Parse()
	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	health := server.NewHealthStatus()

	// Phase 1: signer (C4/C5's cryptographic root of trust).
	log.Println("[phase 1] loading signer key")
	keyPEM, err := os.ReadFile(cfg.SignerKeyPath)
	if err != nil {
		log.Fatalf("[phase 1] read signer key: %v", err)
	}
	privateKey, err := signing.LoadPrivateKeyPEM(keyPEM)
	if err != nil {
		log.Fatalf("[phase 1] parse signer key: %v", err)
	}
	signer, err := signing.NewECDSASigner(cfg.SignerKeyID, privateKey)
	if err != nil {
		log.Fatalf("[phase 1] build signer: %v", err)
	}
	health.SetSigner("ok")
	log.Printf("[phase 1] signer ready (kid=%s)", cfg.SignerKeyID)

	// Phase 2: trusted CA keys, for verifying inbound tokens (C5 step 5).
	log.Println("[phase 2] loading trusted CA keys")
	var caResolver signing.StaticResolver
	if cfg.TrustedCAsPath != "" {
		caResolver, err = loadTrustedCAs(cfg.TrustedCAsPath)
		if err != nil {
			log.Fatalf("[phase 2] load trusted CAs: %v", err)
		}
	} else {
		caResolver = signing.StaticResolver{}
	}
	// The engine's own signing key verifies tokens it minted itself
	// (self-signed BRONZE certificates and same-instance verification).
	caResolver[cfg.SignerKeyID] = &privateKey.PublicKey
	log.Printf("[phase 2] %d trusted CA key(s) loaded", len(caResolver))

	// Phase 3: trust policy document (C6).
	log.Println("[phase 3] loading trust policy")
	policyData, err := os.ReadFile(cfg.TrustPolicyPath)
	if err != nil {
		log.Fatalf("[phase 3] read trust policy: %v", err)
	}
	trustDoc, err := trustpolicy.LoadPolicy(policyData)
	if err != nil {
		log.Fatalf("[phase 3] parse trust policy: %v", err)
	}
	health.SetPolicy("ok")
	log.Printf("[phase 3] trust policy %q loaded", trustDoc.Metadata.Name)

	// Phase 4: revocation oracle (C5 step 6), optional.
	var revocationOracle token.RevocationOracle
	if cfg.CheckRevocation {
		log.Printf("[phase 4] revocation checking enabled against %s", cfg.RevocationURL)
		revocationOracle = noopRevocationOracle{}
		health.SetRevocation("ok")
	} else {
		log.Println("[phase 4] revocation checking disabled")
	}

	// Component wiring: C1-C9 collaborators behind the HTTP handler groups.
	verificationRegistry := verification.NewRegistry()
	verification.RegisterDefaults(verificationRegistry)
	verificationEngine := verification.NewEngine(verificationRegistry)

	certGenerator := &certificate.Generator{
		Organization: cfg.Organization,
		Signer:       signer,
		CA:           staticCA{id: cfg.SignerKeyID, name: cfg.Organization},
	}

	tokenMinter := &token.Minter{Signer: signer, Validity: cfg.TokenValidity}
	tokenVerifier := &token.Verifier{
		Resolver:         caResolver,
		CheckRevocation:  cfg.CheckRevocation,
		RevocationOracle: revocationOracle,
	}

	trustEvaluator := &trustpolicy.Evaluator{Policy: &trustDoc.Spec}

	// Zero-value DecayRules falls back to the spec's default decay
	// factors (session/day/month 0.5, tokens-per-call 0.75); operators
	// that need a tool removal list load it from policy, not env vars.
	capabilityEnforcer := &capability.Enforcer{
		GlobalMaxDepth:    cfg.GlobalMaxChildDepth,
		GlobalDeniedTools: cfg.GlobalDeniedTools,
	}

	policyRepo := policy.MapRepository{}
	policySelector := &policy.Selector{Repo: policyRepo, Cache: policy.NewCache(100)}

	pipeline := &middleware.Pipeline{
		TokenHeader: cfg.TokenHeader,
		Verifier:    tokenVerifier,
		Evaluator:   trustEvaluator,
	}
	httpAdapter := middleware.NewHTTPAdapter(pipeline, log.New(log.Writer(), "[A2AMiddleware] ", log.LstdFlags))

	mux := http.NewServeMux()
	mux.Handle("/health", health)

	goldenThreadHandlers := server.NewGoldenThreadHandlers(nil)
	mux.HandleFunc("/api/v1/golden-thread/build", goldenThreadHandlers.HandleBuild)
	mux.HandleFunc("/api/v1/golden-thread/verify", goldenThreadHandlers.HandleVerify)

	verificationHandlers := server.NewVerificationHandlers(verificationEngine, nil)
	mux.HandleFunc("/api/v1/verify", verificationHandlers.HandleRun)

	certificateHandlers := server.NewCertificateHandlers(certGenerator, nil)
	mux.HandleFunc("/api/v1/certificates", certificateHandlers.HandleGenerate)
	mux.HandleFunc("/api/v1/certificates/compact", certificateHandlers.HandleCompact)

	tokenHandlers := server.NewTokenHandlers(tokenMinter, tokenVerifier, nil)
	mux.HandleFunc("/api/v1/tokens/mint", tokenHandlers.HandleMint)
	mux.HandleFunc("/api/v1/tokens/verify", tokenHandlers.HandleVerify)

	capabilityHandlers := server.NewCapabilityHandlers(capabilityEnforcer, nil)
	mux.HandleFunc("/api/v1/capabilities/validate", capabilityHandlers.HandleValidate)

	policyHandlers := server.NewPolicyHandlers(policyRepo, policySelector, nil)
	mux.HandleFunc("/api/v1/policy/resolve", policyHandlers.HandleResolve)
	mux.HandleFunc("/api/v1/policy/select", policyHandlers.HandleSelect)

	// Any route under /api/v1/a2a/ is a stand-in for a protected
	// agent-to-agent endpoint: the middleware runs the full verify ->
	// evaluate pipeline before the (absent, in this reference server)
	// downstream handler would run.
	mux.Handle("/api/v1/a2a/", httpAdapter.Wrap(http.NotFoundHandler()))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	log.Println("stopped")
}

// noopRevocationOracle is the default revocation collaborator: it reports
// every certificate GOOD. A real deployment wires in an OCSP-equivalent
// client over cfg.RevocationURL; the engine's core never assumes a
// concrete transport.
type noopRevocationOracle struct{}

func (noopRevocationOracle) Check(certificateID string) (token.RevocationStatus, error) {
	return token.RevocationGood, nil
}

func printHelp() {
	fmt.Println("cga-engine — AI agent governance service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  cga-engine [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --help                   Show this help message")
	fmt.Println()
	fmt.Println("Configuration is read entirely from AIGOS_* environment variables;")
	fmt.Println("see pkg/config for the full list and their defaults.")
}
