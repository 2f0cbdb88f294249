package registry

// Logical entity types of the v1 ontology.
const (
	TypeAgent       = "Agent"
	TypeProject     = "Project"
	TypeTask        = "Task"
	TypeResource    = "Resource"
	TypeTension     = "Tension"
	TypeEvent       = "Event"
	TypeRecognition = "Recognition"
	TypeSkill       = "Skill"
	TypeWin         = "Win"
)

// OntologyVersion identifies the relationship vocabulary below.
const OntologyVersion = "v1"

// Relationship types
const (
	// RelManagesProject links an agent to a project it manages
	RelManagesProject = "MANAGES_PROJECT"

	// RelAssignedToProject links an agent or resource to a project it works on
	RelAssignedToProject = "ASSIGNED_TO_PROJECT"

	// RelAssignedToTask links an agent to a task
	RelAssignedToTask = "ASSIGNED_TO_TASK"

	// RelPartOfProject links a task to its project
	RelPartOfProject = "PART_OF_PROJECT"

	// RelAllocatedTo links a resource to the project or task consuming it
	RelAllocatedTo = "ALLOCATED_TO"

	// RelRaisesTension links an agent to a tension it raised
	RelRaisesTension = "RAISES_TENSION"

	// RelResolvesTension links an agent, task or project to a tension it resolves
	RelResolvesTension = "RESOLVES_TENSION"

	// RelGeneratesEvent links any entity to an event it produced
	RelGeneratesEvent = "GENERATES_EVENT"

	// RelParticipatesIn links an agent to an event
	RelParticipatesIn = "PARTICIPATES_IN"

	// RelGivesRecognition links an agent to a recognition it gave
	RelGivesRecognition = "GIVES_RECOGNITION"

	// RelReceivesRecognition links an agent to a recognition it received
	RelReceivesRecognition = "RECEIVES_RECOGNITION"

	// RelHasSkill links an agent to a skill
	RelHasSkill = "HAS_SKILL"

	// RelRequiresSkill links a task or project to a skill it needs
	RelRequiresSkill = "REQUIRES_SKILL"

	// RelAchievedWin links an agent or project to a win
	RelAchievedWin = "ACHIEVED_WIN"

	// RelContributedTo links an agent to a win it contributed to
	RelContributedTo = "CONTRIBUTED_TO"
)

var relationshipTypes = []string{
	RelManagesProject,
	RelAssignedToProject,
	RelAssignedToTask,
	RelPartOfProject,
	RelAllocatedTo,
	RelRaisesTension,
	RelResolvesTension,
	RelGeneratesEvent,
	RelParticipatesIn,
	RelGivesRecognition,
	RelReceivesRecognition,
	RelHasSkill,
	RelRequiresSkill,
	RelAchievedWin,
	RelContributedTo,
}

// RelationshipTypes returns the relationship vocabulary of the current ontology version.
func RelationshipTypes() []string {
	out := make([]string, len(relationshipTypes))
	copy(out, relationshipTypes)
	return out
}

// IsKnownRelationshipType reports whether relType belongs to the vocabulary.
// The engine never rejects unknown types; callers use this for warnings.
func IsKnownRelationshipType(relType string) bool {
	for _, t := range relationshipTypes {
		if t == relType {
			return true
		}
	}
	return false
}

// DefaultTypes returns the entity table of the v1 ontology.
func DefaultTypes() []EntityType {
	return []EntityType{
		{Name: TypeAgent, Label: "Agent", IDField: "agentId"},
		{Name: TypeProject, Label: "Project", IDField: "projectId"},
		{Name: TypeTask, Label: "Task", IDField: "taskId"},
		{Name: TypeResource, Label: "Resource", IDField: "resourceId"},
		{Name: TypeTension, Label: "Tension", IDField: "tensionId"},
		{Name: TypeEvent, Label: "Event", IDField: "eventId"},
		{Name: TypeRecognition, Label: "Recognition", IDField: "recognitionId"},
		{Name: TypeSkill, Label: "Skill", IDField: "skillId"},
		{Name: TypeWin, Label: "WIN", IDField: "winId"},
	}
}

// Default returns a registry holding the v1 ontology.
func Default() *Registry {
	r, err := New(DefaultUniversalIDField, DefaultTypes()...)
	if err != nil {
		panic("registry: invalid default table: " + err.Error())
	}
	return r
}
