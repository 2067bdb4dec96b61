package catalog

// Section ids of the built-in catalog.
const (
	SectionInfrastructure = "infrastructure"
	SectionResilience     = "resilience"
	SectionCompliance     = "compliance"
	SectionDependencies   = "dependencies"
	SectionTechDebt       = "tech_debt"
	SectionBusiness       = "business"
)

// defaultSections holds the critical attributes collected before migration
// planning, grouped the way consultants interview asset owners.
var defaultSections = []Section{
	{
		ID:          SectionInfrastructure,
		Title:       "Infrastructure",
		Description: "Hosting, compute, and platform details of the asset.",
		Attributes: []string{
			"operating_system",
			"os_version",
			"cpu_cores",
			"memory_gb",
			"storage_gb",
			"hosting_environment",
			"virtualization_platform",
			"network_zone",
		},
	},
	{
		ID:          SectionResilience,
		Title:       "Resilience",
		Description: "Backup, recovery, and availability expectations.",
		Attributes: []string{
			"backup_frequency",
			"rto_minutes",
			"rpo_minutes",
			"disaster_recovery_tier",
			"high_availability",
			"monitoring_tool",
		},
	},
	{
		ID:          SectionCompliance,
		Title:       "Compliance",
		Description: "Regulatory scope and data handling constraints.",
		Attributes: []string{
			"data_classification",
			"compliance_frameworks",
			"data_residency",
			"encryption_at_rest",
			"pii_present",
		},
	},
	{
		ID:          SectionDependencies,
		Title:       "Dependencies",
		Description: "Integrations and shared services the asset relies on.",
		Attributes: []string{
			"upstream_dependencies",
			"downstream_dependencies",
			"integration_types",
			"shared_database",
			"authentication_method",
		},
	},
	{
		ID:          SectionTechDebt,
		Title:       "Tech Debt",
		Description: "Technology currency and modernization blockers.",
		Attributes: []string{
			"technology_stack",
			"framework_version",
			"end_of_support_date",
			"code_quality_rating",
			"modernization_blockers",
		},
	},
	{
		ID:          SectionBusiness,
		Title:       "Business Context",
		Description: "Ownership, criticality, and tolerance for change.",
		Attributes: []string{
			"business_criticality",
			"business_owner",
			"technical_owner",
			"user_count",
			"change_tolerance",
		},
	},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultSections)
	if err != nil {
		panic(err) // built-in table is static
	}
	return c
}
