// Package providers registers every built-in backend adapter.
package providers

import (
	_ "github.com/sipico/netcup-api-filter/internal/backend/cloudflare"
	_ "github.com/sipico/netcup-api-filter/internal/backend/netcup"
	_ "github.com/sipico/netcup-api-filter/internal/backend/powerdns"
	_ "github.com/sipico/netcup-api-filter/internal/backend/route53"
)
