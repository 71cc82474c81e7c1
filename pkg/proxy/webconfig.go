package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyac-dev/hyac/pkg/log"
)

// Traefik dynamic configuration document, reduced to the pieces the static
// web route needs.
type dynamicConfig struct {
	HTTP httpConfig `yaml:"http"`
}

type httpConfig struct {
	Routers     map[string]router     `yaml:"routers"`
	Services    map[string]service    `yaml:"services"`
	Middlewares map[string]middleware `yaml:"middlewares"`
}

type router struct {
	Rule        string    `yaml:"rule"`
	EntryPoints []string  `yaml:"entryPoints"`
	Service     string    `yaml:"service"`
	TLS         routerTLS `yaml:"tls"`
	Middlewares []string  `yaml:"middlewares"`
}

type routerTLS struct {
	CertResolver string `yaml:"certResolver"`
}

type service struct {
	LoadBalancer loadBalancer `yaml:"loadBalancer"`
}

type loadBalancer struct {
	Servers []server `yaml:"servers"`
}

type server struct {
	URL string `yaml:"url"`
}

type middleware struct {
	Chain            *chainMiddleware   `yaml:"chain,omitempty"`
	Headers          *headersMiddleware `yaml:"headers,omitempty"`
	ReplacePathRegex *replacePathRegex  `yaml:"replacePathRegex,omitempty"`
	AddPrefix        *addPrefix         `yaml:"addPrefix,omitempty"`
	Errors           *errorsMiddleware  `yaml:"errors,omitempty"`
}

type chainMiddleware struct {
	Middlewares []string `yaml:"middlewares"`
}

type headersMiddleware struct {
	CustomRequestHeaders map[string]string `yaml:"customRequestHeaders"`
}

type replacePathRegex struct {
	Regex       string `yaml:"regex"`
	Replacement string `yaml:"replacement"`
}

type addPrefix struct {
	Prefix string `yaml:"prefix"`
}

type errorsMiddleware struct {
	Status  []string `yaml:"status"`
	Service string   `yaml:"service"`
	Query   string   `yaml:"query"`
}

// WebConfigSink writes per-app dynamic config files to the directory the
// reverse proxy watches.
type WebConfigSink struct {
	dir           string
	domain        string
	blobEndpoint  string
	blobHostLabel string
}

// NewWebConfigSink creates a sink over the shared dynamic-config directory.
// blobEndpoint is the object store's internal host:port.
func NewWebConfigSink(dir, domain, blobEndpoint string) *WebConfigSink {
	return &WebConfigSink{
		dir:           dir,
		domain:        domain,
		blobEndpoint:  blobEndpoint,
		blobHostLabel: blobEndpoint,
	}
}

func (s *WebConfigSink) configPath(appID string) string {
	return filepath.Join(s.dir, "web-"+appID+".yml")
}

// WriteWebConfig materializes the static-hosting route for one app: the
// app's web bucket served with SPA fallback, root requests rewritten to
// index.html and 404s answered with index.html.
func (s *WebConfigSink) WriteWebConfig(appID string) error {
	bucket := "web-" + strings.ToLower(appID)
	routerName := "web-router-" + appID
	serviceName := "web-service-" + appID
	chainName := "web-chain-" + appID
	headersName := "web-headers-" + appID
	rewriteName := "web-rewrite-" + appID
	prefixName := "web-prefix-" + appID
	spaName := "web-spa-" + appID

	cfg := dynamicConfig{HTTP: httpConfig{
		Routers: map[string]router{
			routerName: {
				Rule:        fmt.Sprintf("Host(`%s.%s`)", bucket, s.domain),
				EntryPoints: []string{"websecure"},
				Service:     serviceName,
				TLS:         routerTLS{CertResolver: "myresolver"},
				Middlewares: []string{chainName},
			},
		},
		Services: map[string]service{
			serviceName: {
				LoadBalancer: loadBalancer{
					Servers: []server{{URL: "http://" + s.blobEndpoint}},
				},
			},
		},
		Middlewares: map[string]middleware{
			chainName: {Chain: &chainMiddleware{
				Middlewares: []string{headersName, rewriteName, prefixName, spaName},
			}},
			headersName: {Headers: &headersMiddleware{
				CustomRequestHeaders: map[string]string{
					"x-amz-content-sha256": "UNSIGNED-PAYLOAD",
					"Host":                 s.blobHostLabel,
				},
			}},
			rewriteName: {ReplacePathRegex: &replacePathRegex{
				Regex:       "^/?$",
				Replacement: "/index.html",
			}},
			prefixName: {AddPrefix: &addPrefix{Prefix: "/" + bucket}},
			spaName: {Errors: &errorsMiddleware{
				Status:  []string{"404"},
				Service: serviceName,
				Query:   "/" + bucket + "/index.html",
			}},
		},
	}}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal web config for %s: %w", appID, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	// The proxy watches the directory, so the file must appear complete.
	tmp := s.configPath(appID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write web config for %s: %w", appID, err)
	}
	if err := os.Rename(tmp, s.configPath(appID)); err != nil {
		return fmt.Errorf("failed to publish web config for %s: %w", appID, err)
	}
	log.Logger.Debug().Str("app_id", appID).Str("path", s.configPath(appID)).Msg("web config written")
	return nil
}

// RemoveWebConfig deletes the app's dynamic config file if present
func (s *WebConfigSink) RemoveWebConfig(appID string) error {
	err := os.Remove(s.configPath(appID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove web config for %s: %w", appID, err)
	}
	return nil
}
