package models

type SearchWorkflowRequest struct {
	ID            int64  `json:"id"`
	ExternalID    string `json:"externalId"`
	ExecutorGroup string `json:"executorGroup"`
	WorkflowType  string `json:"workflowType"`
	BusinessKey   string `json:"businessKey"`
	State         string `json:"state"`
	Status        string `json:"status"`
	Limit         int64  `json:"limit" validate:"gte=0,lte=1000"`
	Offset        int64  `json:"offset" validate:"gte=0"`
}

type SearchWorkflowResponse struct {
	Results   int                   `json:"results"`
	Workflows []WorkflowApiResponse `json:"workflows"`
	Offset    int64                 `json:"offset"`
}
