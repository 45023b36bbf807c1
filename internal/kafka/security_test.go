package kafka

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

func TestConfigureSecurity(t *testing.T) {
	tests := []struct {
		name          string
		cfg           SecurityConfig
		wantErr       bool
		wantSASL      bool
		wantTLS       bool
		wantMechanism sarama.SASLMechanism
	}{
		{
			name: "plaintext",
			cfg:  SecurityConfig{SecurityProtocol: ProtocolPlaintext},
		},
		{
			name: "unset protocol",
			cfg:  SecurityConfig{},
		},
		{
			name:    "ssl",
			cfg:     SecurityConfig{SecurityProtocol: ProtocolSSL},
			wantTLS: true,
		},
		{
			name:          "sasl plain",
			cfg:           SecurityConfig{SecurityProtocol: ProtocolSASLPlaintext, SASLMechanism: MechanismPlain, SASLUsername: "u", SASLPassword: "p"},
			wantSASL:      true,
			wantMechanism: sarama.SASLTypePlaintext,
		},
		{
			name:          "sasl ssl scram 512",
			cfg:           SecurityConfig{SecurityProtocol: ProtocolSASLSSL, SASLMechanism: MechanismSCRAMSHA512, SASLUsername: "u", SASLPassword: "p"},
			wantSASL:      true,
			wantTLS:       true,
			wantMechanism: sarama.SASLTypeSCRAMSHA512,
		},
		{
			name:          "scram 256",
			cfg:           SecurityConfig{SecurityProtocol: ProtocolSASLPlaintext, SASLMechanism: MechanismSCRAMSHA256},
			wantSASL:      true,
			wantMechanism: sarama.SASLTypeSCRAMSHA256,
		},
		{
			name:          "msk iam",
			cfg:           SecurityConfig{SecurityProtocol: ProtocolSASLSSL, SASLMechanism: MechanismAWSMSKIAM, AWSRegion: "us-east-1"},
			wantSASL:      true,
			wantTLS:       true,
			wantMechanism: sarama.SASLTypeOAuth,
		},
		{
			name:    "msk iam without region",
			cfg:     SecurityConfig{SecurityProtocol: ProtocolSASLSSL, SASLMechanism: MechanismAWSMSKIAM},
			wantErr: true,
		},
		{
			name:    "unknown mechanism",
			cfg:     SecurityConfig{SecurityProtocol: ProtocolSASLSSL, SASLMechanism: "GSSAPI"},
			wantErr: true,
		},
		{
			name:    "unknown protocol",
			cfg:     SecurityConfig{SecurityProtocol: "QUIC"},
			wantErr: true,
		},
		{
			name:    "missing CA file",
			cfg:     SecurityConfig{SecurityProtocol: ProtocolSSL, CAFile: "/does/not/exist.pem"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := sarama.NewConfig()
			err := configureSecurity(config, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureSecurity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if config.Net.SASL.Enable != tt.wantSASL {
				t.Errorf("SASL.Enable = %v, want %v", config.Net.SASL.Enable, tt.wantSASL)
			}
			if config.Net.TLS.Enable != tt.wantTLS {
				t.Errorf("TLS.Enable = %v, want %v", config.Net.TLS.Enable, tt.wantTLS)
			}
			if tt.wantSASL && config.Net.SASL.Mechanism != tt.wantMechanism {
				t.Errorf("SASL.Mechanism = %v, want %v", config.Net.SASL.Mechanism, tt.wantMechanism)
			}
		})
	}
}

func writeTestCA(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "kafbridge test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestTLSConfig(t *testing.T) {
	t.Run("with CA file", func(t *testing.T) {
		tc, err := tlsConfig(SecurityConfig{CAFile: writeTestCA(t)})
		if err != nil {
			t.Fatalf("tlsConfig() error = %v", err)
		}
		if tc.RootCAs == nil {
			t.Error("RootCAs not set")
		}
	})

	t.Run("file without certificates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.pem")
		if err := os.WriteFile(path, []byte("not a cert"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := tlsConfig(SecurityConfig{CAFile: path}); err == nil {
			t.Error("tlsConfig() expected error")
		}
	})

	t.Run("system roots", func(t *testing.T) {
		tc, err := tlsConfig(SecurityConfig{InsecureSkipVerify: true})
		if err != nil {
			t.Fatalf("tlsConfig() error = %v", err)
		}
		if tc.RootCAs != nil || !tc.InsecureSkipVerify {
			t.Errorf("tlsConfig() = %+v", tc)
		}
	})
}

func TestSCRAMClient(t *testing.T) {
	for name, hash := range map[string]scram.HashGeneratorFcn{
		"sha256": scram.SHA256,
		"sha512": scram.SHA512,
	} {
		t.Run(name, func(t *testing.T) {
			client := scramGenerator(hash)()
			if err := client.Begin("user", "secret", ""); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}
			first, err := client.Step("")
			if err != nil {
				t.Fatalf("Step() error = %v", err)
			}
			if !strings.HasPrefix(first, "n,,n=user,r=") {
				t.Errorf("client-first message = %q", first)
			}
			if client.Done() {
				t.Error("conversation should not be done after the first step")
			}
		})
	}
}
