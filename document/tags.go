package document

// Mention tags of the PET process-model annotation scheme.
const (
	TagActor                  = "Actor"
	TagActivity               = "Activity"
	TagActivityData           = "Activity Data"
	TagFurtherSpecification   = "Further Specification"
	TagXORGateway             = "XOR Gateway"
	TagANDGateway             = "AND Gateway"
	TagConditionSpecification = "Condition Specification"
)

// Relation tags of the PET process-model annotation scheme.
const (
	RelFlow                 = "Flow"
	RelUses                 = "Uses"
	RelActorPerformer       = "Actor Performer"
	RelActorRecipient       = "Actor Recipient"
	RelFurtherSpecification = "Further Specification"
	RelSameGateway          = "Same Gateway"
)
