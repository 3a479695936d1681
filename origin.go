package envshadow

import (
	"log/slog"
	"net/url"

	"github.com/nlowe/envshadow/discovery"
)

// Version is stamped at build time with -ldflags "-X github.com/nlowe/envshadow.Version=...".
var Version = "dev"

// Origin describes the software behind a discovered device. Home Assistant logs it when the device is discovered and
// requires it for device based discovery.
type Origin struct {
	Name            string
	SoftwareVersion string
	SupportURL      *url.URL
}

func (o Origin) fields() discovery.Fields {
	f := discovery.Fields{"name": o.Name}
	discovery.Set(f, "sw", o.SoftwareVersion)
	if o.SupportURL != nil {
		f["url"] = o.SupportURL
	}

	return f
}

func (o Origin) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", o.Name),
		slog.String("version", o.SoftwareVersion),
	)
}

var supportURL, _ = url.Parse("https://github.com/nlowe/envshadow")

// DefaultOrigin is used for devices that do not set Device.Origin.
func DefaultOrigin() Origin {
	return Origin{
		Name:            "envshadow",
		SoftwareVersion: Version,
		SupportURL:      supportURL,
	}
}
