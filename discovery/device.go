package discovery

import (
	"strings"

	"github.com/nlowe/envshadow/mqtt"
)

// Device, origin and shared component fields.
const (
	FieldDevice          = "dev"
	FieldOrigin          = "o"
	FieldComponents      = "cmps"
	FieldPlatform        = "p"
	FieldName            = "name"
	FieldEntityCategory  = "ent_cat"
	FieldIcon            = "ic"
	FieldDefaultEntityID = "def_ent_id"
	FieldUniqueID        = "uniq_id"
	FieldDeviceClass     = "dev_cla"

	FieldAvailabilityTopic   = "avty_t"
	FieldPayloadAvailable    = "pl_avail"
	FieldPayloadNotAvailable = "pl_not_avail"

	FieldQoS    = "qos"
	FieldRetain = "ret"

	FieldStateTopic   = "stat_t"
	FieldCommandTopic = "cmd_t"
	FieldPayloadOn    = "pl_on"
	FieldPayloadOff   = "pl_off"
	FieldStateOn      = "stat_on"
	FieldStateOff     = "stat_off"
	FieldOptimistic   = "opt"
)

// Sensor and binary sensor fields.
const (
	FieldExpireAfter               = "exp_aft"
	FieldForceUpdate               = "frc_upd"
	FieldAttributesTopic           = "json_attr_t"
	FieldSuggestedDisplayPrecision = "sug_dsp_prc"
	FieldStateClass                = "stat_cla"
	FieldUnitOfMeasurement         = "unit_of_meas"
	FieldOffDelay                  = "off_dly"
)

// IDSep separates the parts of a discovery id and replaces characters that cannot appear in one.
const IDSep = "__"

// IDSanitizer makes an arbitrary string safe to use as a single topic level.
var IDSanitizer = strings.NewReplacer(
	" ", IDSep,
	":", IDSep,
	".", IDSep,
	"!", IDSep,
	"?", IDSep,
	mqtt.SingleLevelWildcard, IDSep,
	mqtt.MultiLevelWildcard, IDSep,
	mqtt.TopicSeparator, IDSep,
)
