package server

import (
	"priorityline/internal/engine"
)

// Query inputs

func scopeOf(positionID, objectiveID string) engine.Scope {
	return engine.Scope{PositionID: positionID, ObjectiveID: objectiveID}
}

type PeriodICPInput struct {
	Month       int    `query:"month" minimum:"1" maximum:"12" doc:"Defaults to the current month"`
	Year        int    `query:"year" minimum:"1970" maximum:"9999" doc:"Defaults to the current year"`
	PositionID  string `query:"positionId" doc:"Limit to priorities owned by this position"`
	ObjectiveID string `query:"objectiveId" doc:"Limit to priorities linked to this objective"`
}

func (in PeriodICPInput) scope() engine.Scope {
	return scopeOf(in.PositionID, in.ObjectiveID)
}

type ListPrioritiesInput struct {
	Month       int    `query:"month" minimum:"1" maximum:"12" doc:"Defaults to the current month"`
	Year        int    `query:"year" minimum:"1970" maximum:"9999" doc:"Defaults to the current year"`
	PositionID  string `query:"positionId" doc:"Limit to priorities owned by this position"`
	ObjectiveID string `query:"objectiveId" doc:"Limit to priorities linked to this objective"`
	Page        int    `query:"page" minimum:"0" doc:"1-based page, default 1"`
	Limit       int    `query:"limit" minimum:"0" doc:"Page size, default 50, capped at 200"`
}

func (in ListPrioritiesInput) scope() engine.Scope {
	return scopeOf(in.PositionID, in.ObjectiveID)
}

type ICPSeriesInput struct {
	From        string `query:"from" pattern:"^[0-9]{4}-[0-9]{2}$" example:"2024-01" doc:"First month, YYYY-MM"`
	To          string `query:"to" pattern:"^[0-9]{4}-[0-9]{2}$" example:"2024-12" doc:"Last month, YYYY-MM"`
	PositionID  string `query:"positionId" doc:"Limit to priorities owned by this position"`
	ObjectiveID string `query:"objectiveId" doc:"Limit to priorities linked to this objective"`
}

func (in ICPSeriesInput) scope() engine.Scope {
	return scopeOf(in.PositionID, in.ObjectiveID)
}

// Responses

type PriorityPageResponse struct {
	Body engine.PriorityPage `json:"body"`
}

type ICPResponse struct {
	Body engine.ICPResult `json:"body"`
}

type ICPSeriesResponse struct {
	Body engine.Series `json:"body"`
}

type MeBody struct {
	Subject     string   `json:"subject"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source" enum:"jwt,api_key"`
}

type MeResponse struct {
	Body MeBody `json:"body"`
}
