package proxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyac-dev/hyac/pkg/types"
)

// RuntimeLabels returns the container labels describing the app's HTTPS
// route. The reverse proxy discovers these through the container engine, so
// the route appears as soon as the container does and disappears with it.
func RuntimeLabels(appID, domain string) map[string]string {
	name := types.RuntimeContainerName(appID)
	host := strings.ToLower(appID) + "." + domain
	return map[string]string{
		"traefik.enable": "true",
		fmt.Sprintf("traefik.http.routers.%s.rule", name):                      fmt.Sprintf("Host(`%s`)", host),
		fmt.Sprintf("traefik.http.routers.%s.entrypoints", name):               "websecure",
		fmt.Sprintf("traefik.http.routers.%s.tls.certresolver", name):          "myresolver",
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", name): strconv.Itoa(types.RuntimePort),
	}
}
