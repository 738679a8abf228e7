package sources

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/pkg/rdap"
)

const maxTXTLen = 200

// Resolver is the subset of *net.Resolver used for record lookups.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

var mailProviders = []struct {
	keywords []string
	name     string
}{
	{[]string{"google", "googlemail"}, "Google Workspace"},
	{[]string{"outlook", "microsoft"}, "Microsoft 365"},
	{[]string{"zoho"}, "Zoho Mail"},
	{[]string{"protonmail"}, "ProtonMail"},
	{[]string{"mimecast"}, "Mimecast"},
	{[]string{"barracuda"}, "Barracuda"},
}

// DNS reads mail, TXT and nameserver records and the domain's registration.
type DNS struct {
	resolver Resolver
	rdap     rdap.Client
	now      func() time.Time
}

// NewDNS creates the DNS adapter. A nil rdap client skips the registration
// lookup.
func NewDNS(r Resolver, rc rdap.Client) *DNS {
	if r == nil {
		r = net.DefaultResolver
	}
	return &DNS{resolver: r, rdap: rc, now: time.Now}
}

// Source implements Adapter.
func (d *DNS) Source() model.Source { return model.SourceDNS }

// Collect implements Adapter. Individual lookups that find nothing are not
// errors; the adapter fails only when every lookup came back empty.
func (d *DNS) Collect(ctx context.Context, company model.Company) (any, error) {
	domain := company.Domain
	if domain == "" {
		return nil, eris.New("dns: company has no domain")
	}
	p := &model.DNSPayload{Domain: domain}

	var reg *rdap.Registration
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mx, err := d.resolver.LookupMX(gctx, domain)
		if err != nil {
			return lookupErr(err, "mx")
		}
		for _, r := range mx {
			p.MXRecords = append(p.MXRecords, strings.TrimSuffix(r.Host, "."))
		}
		if len(p.MXRecords) > 0 {
			p.EmailProvider = MailProvider(p.MXRecords)
		}
		return nil
	})
	g.Go(func() error {
		txt, err := d.resolver.LookupTXT(gctx, domain)
		if err != nil {
			return lookupErr(err, "txt")
		}
		for _, t := range txt {
			p.TXTRecords = append(p.TXTRecords, truncate(t, maxTXTLen))
			if strings.Contains(t, "v=spf1") {
				p.HasSPF = true
			}
		}
		return nil
	})
	g.Go(func() error {
		txt, err := d.resolver.LookupTXT(gctx, "_dmarc."+domain)
		if err != nil {
			return lookupErr(err, "dmarc")
		}
		for _, t := range txt {
			if strings.Contains(t, "v=DMARC1") {
				p.HasDMARC = true
				break
			}
		}
		return nil
	})
	g.Go(func() error {
		ns, err := d.resolver.LookupNS(gctx, domain)
		if err != nil {
			return lookupErr(err, "ns")
		}
		for _, r := range ns {
			p.Nameservers = append(p.Nameservers, strings.TrimSuffix(r.Host, "."))
		}
		return nil
	})
	if d.rdap != nil {
		g.Go(func() error {
			r, err := d.rdap.Domain(gctx, domain)
			if err != nil {
				// Registration data is best-effort.
				if !eris.Is(err, rdap.ErrNotFound) {
					zap.L().Debug("dns: rdap lookup failed", zap.String("domain", domain), zap.Error(err))
				}
				return nil
			}
			reg = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if reg != nil {
		p.Registrar = reg.Registrar
		p.CreationDate = reg.Registered
		p.ExpirationDate = reg.Expires
		p.DomainAgeYears = reg.AgeYears(d.now())
	}

	if len(p.MXRecords) == 0 && len(p.TXTRecords) == 0 && len(p.Nameservers) == 0 && reg == nil {
		return nil, ErrNoData
	}
	return p, nil
}

// lookupErr swallows "no such host" and empty answers; anything else, such
// as a cancelled context, fails the adapter.
func lookupErr(err error, kind string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(err, "dns: %s lookup", kind)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsNotFound || !dnsErr.IsTimeout && !dnsErr.IsTemporary) {
		return nil
	}
	return eris.Wrapf(err, "dns: %s lookup", kind)
}

// MailProvider names the hosted mail service behind a set of MX hosts.
func MailProvider(mx []string) string {
	joined := strings.ToLower(strings.Join(mx, " "))
	for _, p := range mailProviders {
		for _, k := range p.keywords {
			if strings.Contains(joined, k) {
				return p.name
			}
		}
	}
	return "Custom/Other"
}
