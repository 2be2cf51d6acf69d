package site

import "fmt"

const (
	ciSiteDomain     = "engk8s.processmaker.net"
	ciTenantCount    = 3
	ciMailConfig     = "dms.json"
	ciNgrokContainer = "http://ngrok:4040"
)

// GenerateCI builds the sites of a CI instance. A multitenant instance
// gets one site per tenant.
func GenerateCI(instance string, multitenancy bool) ([]Site, error) {
	if instance == "" {
		return nil, fmt.Errorf("INSTANCE environment variable is required")
	}

	base := Site{
		BearerToken:      "",
		ScriptExecutorID: 1,
		MailConfig:       ciMailConfig,
		NgrokContainer:   ciNgrokContainer,
	}

	if !multitenancy {
		s := base
		s.Name = "CI1"
		s.URL = fmt.Sprintf("https://ci-%s.%s", instance, ciSiteDomain)
		return []Site{s}, nil
	}

	sites := make([]Site, 0, ciTenantCount)
	for i := 1; i <= ciTenantCount; i++ {
		s := base
		s.Name = fmt.Sprintf("CI%d", i)
		s.URL = fmt.Sprintf("https://tenant-%d.ci-%s.%s", i, instance, ciSiteDomain)
		sites = append(sites, s)
	}
	return sites, nil
}
